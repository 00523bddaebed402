// Package worker turns delivered queue jobs into SMTP sends, driving each
// message through its status transitions and the rate limiter.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailflow/internal/model"
	"mailflow/internal/mq"
	"mailflow/internal/queue"
	"mailflow/internal/ratelimit"
	"mailflow/internal/transport"
	"mailflow/internal/util"
	"mailflow/pkg/circuitbreaker"
	"mailflow/pkg/metrics"
)

// MessageStore is the slice of the message repository the processor needs.
type MessageStore interface {
	FindByID(ctx context.Context, id string) (*model.Message, error)
	MarkProcessing(ctx context.Context, id, jobID string) (bool, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, providerMessageID string, previewURL *string) error
	MarkFailed(ctx context.Context, id, errorMessage string, retryCount int) error
	MarkRateLimited(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, scheduledAt time.Time, errorMessage *string, retryCount int) error
	SetJobID(ctx context.Context, id, jobID string) error
}

type BatchStore interface {
	IncrementSent(ctx context.Context, id string) error
	IncrementFailed(ctx context.Context, id string) error
}

type SenderStore interface {
	FindByID(ctx context.Context, id string) (*model.Sender, error)
}

type Limiter interface {
	Check(ctx context.Context, senderID string) (ratelimit.Result, error)
	Increment(ctx context.Context, senderID string)
}

// Requeuer is the slice of the delayed queue the processor needs.
type Requeuer interface {
	Enqueue(ctx context.Context, job queue.SendJob, opts queue.Options) (string, error)
	Retry(ctx context.Context, env *queue.Envelope) (time.Duration, error)
	Complete(ctx context.Context, jobID string) error
}

// DeadLetterer receives jobs whose retry budget is exhausted.
type DeadLetterer interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// Processor handles one delivered send job at a time. It is safe for
// concurrent use; the broker's prefetch bounds how many run in parallel.
type Processor struct {
	messages MessageStore
	batches  BatchStore
	senders  SenderStore
	limiter  Limiter
	queue    Requeuer
	trans    transport.Transport

	// process-wide SMTP defaults, overridden per sender
	defaults  transport.Settings
	fromEmail string

	breaker     *circuitbreaker.CircuitBreaker
	deadLetters DeadLetterer
	logger      *zap.Logger
	now         func() time.Time
}

func NewProcessor(
	messages MessageStore,
	batches BatchStore,
	senders SenderStore,
	limiter Limiter,
	q Requeuer,
	trans transport.Transport,
	defaults transport.Settings,
	fromEmail string,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		messages:  messages,
		batches:   batches,
		senders:   senders,
		limiter:   limiter,
		queue:     q,
		trans:     trans,
		defaults:  defaults,
		fromEmail: fromEmail,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:    logger,
		now:       time.Now,
	}
}

// SetDeadLetterer routes permanently failed jobs to the dead letter exchange.
func (p *Processor) SetDeadLetterer(dl DeadLetterer) {
	p.deadLetters = dl
}

// HandleSendJob is the broker message handler. A nil return acks the delivery;
// an error nacks it for redelivery, so only retryable infrastructure failures
// may propagate out.
func (p *Processor) HandleSendJob(ctx context.Context, raw json.RawMessage) error {
	var env queue.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Error("Undecodable send job dropped", zap.Error(err))
		metrics.IncrementEmailProcessed("dropped")
		return nil
	}

	m, err := p.messages.FindByID(ctx, env.Job.MessageID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Cancelled between dispatch and delivery.
		p.drop(ctx, &env, "message row gone")
		return nil
	}
	if err != nil {
		return p.infra(ctx, &env, "load message", err)
	}

	if model.IsTerminal(m.Status) {
		p.drop(ctx, &env, "message already terminal")
		return nil
	}

	claimed, err := p.messages.MarkProcessing(ctx, m.ID, env.ID)
	if err != nil {
		return p.infra(ctx, &env, "mark processing", err)
	}
	if !claimed {
		p.drop(ctx, &env, "message not claimable")
		return nil
	}

	senderID := ""
	if m.SenderID != nil {
		senderID = *m.SenderID
	}

	res, err := p.limiter.Check(ctx, senderID)
	if err != nil {
		return p.infra(ctx, &env, "rate limit check", err)
	}
	if !res.Allowed {
		return p.reschedule(ctx, &env, m, senderID, res)
	}

	settings, from := p.resolveSender(ctx, senderID)

	mail := transport.Envelope{
		FromName:  from.Name,
		FromEmail: from.Email,
		To:        m.Recipient,
		Subject:   m.Subject,
		HTML:      m.Body,
		Text:      htmlToText(m.Body),
	}

	var result *transport.Result
	start := p.now()
	sendErr := p.breaker.Execute(func() error {
		r, err := p.trans.Send(ctx, settings, mail)
		result = r
		return err
	})
	if sendErr != nil {
		metrics.RecordSendLatency("failure", p.now().Sub(start))
		return p.sendFailed(ctx, &env, m, sendErr)
	}
	metrics.RecordSendLatency("success", p.now().Sub(start))

	return p.sent(ctx, &env, m, senderID, result)
}

// sent records a successful delivery. Book-keeping failures after the wire
// send are logged but never returned: a redelivery would send twice.
func (p *Processor) sent(ctx context.Context, env *queue.Envelope, m *model.Message, senderID string, result *transport.Result) error {
	p.limiter.Increment(ctx, senderID)

	if err := p.messages.MarkSent(ctx, m.ID, p.now(), result.MessageID, result.PreviewURL); err != nil {
		p.logger.Error("Failed to mark message sent",
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}
	if err := p.batches.IncrementSent(ctx, m.BatchID); err != nil {
		p.logger.Warn("Failed to bump batch sent counter",
			zap.String("batch_id", m.BatchID),
			zap.Error(err),
		)
	}
	p.complete(ctx, env.ID)

	metrics.IncrementEmailProcessed("sent")
	p.logger.Info("Email sent",
		zap.String("message_id", m.ID),
		zap.String("recipient", m.Recipient),
		zap.String("provider_message_id", result.MessageID),
	)
	return nil
}

// reschedule handles a rate-limit denial: the message goes back to SCHEDULED
// at the next open slot under a fresh deterministic job id, without consuming
// retry budget.
func (p *Processor) reschedule(ctx context.Context, env *queue.Envelope, m *model.Message, senderID string, res ratelimit.Result) error {
	if err := p.messages.MarkRateLimited(ctx, m.ID); err != nil {
		return p.infra(ctx, env, "mark rate limited", err)
	}

	delay := res.NextSlotAt.Sub(p.now())
	job := env.Job
	job.Attempt++

	jobID, err := p.queue.Enqueue(ctx, job, queue.Options{
		Delay:    delay,
		Priority: env.Priority,
		Attempts: env.Attempts,
		Backoff:  env.Backoff,
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
		return p.infra(ctx, env, "requeue after rate limit", err)
	}

	if err := p.messages.Reschedule(ctx, m.ID, res.NextSlotAt, nil, m.RetryCount); err != nil {
		p.logger.Warn("Failed to move rate limited message back to scheduled",
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}
	if err := p.messages.SetJobID(ctx, m.ID, jobID); err != nil {
		p.logger.Warn("Failed to link rescheduled job id",
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}
	p.complete(ctx, env.ID)

	metrics.IncrementEmailProcessed("rate_limited")
	p.logger.Info("Send deferred by rate limit",
		zap.String("message_id", m.ID),
		zap.String("sender_id", senderID),
		zap.Time("next_slot_at", res.NextSlotAt),
	)
	return nil
}

// sendFailed routes a transport failure into either a backoff retry or the
// terminal FAILED state once the budget is spent.
func (p *Processor) sendFailed(ctx context.Context, env *queue.Envelope, m *model.Message, sendErr error) error {
	errMsg := sendErr.Error()
	retryCount := m.RetryCount + 1

	if retryCount >= m.MaxRetries {
		return p.fail(ctx, env, m, errMsg, retryCount)
	}

	delay, err := p.queue.Retry(ctx, env)
	if errors.Is(err, queue.ErrRetriesExhausted) {
		return p.fail(ctx, env, m, errMsg, retryCount)
	}
	if err != nil {
		return p.infra(ctx, env, "requeue retry", err)
	}

	if err := p.messages.Reschedule(ctx, m.ID, p.now().Add(delay), &errMsg, retryCount); err != nil {
		p.logger.Warn("Failed to record retry schedule",
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}

	metrics.IncrementEmailProcessed("retried")
	p.logger.Warn("Send failed, retry scheduled",
		zap.String("message_id", m.ID),
		zap.Int("retry_count", retryCount),
		zap.Duration("delay", delay),
		zap.String("error", errMsg),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, env *queue.Envelope, m *model.Message, errMsg string, retryCount int) error {
	if err := p.messages.MarkFailed(ctx, m.ID, errMsg, retryCount); err != nil {
		return p.infra(ctx, env, "mark failed", err)
	}
	if err := p.batches.IncrementFailed(ctx, m.BatchID); err != nil {
		p.logger.Warn("Failed to bump batch failed counter",
			zap.String("batch_id", m.BatchID),
			zap.Error(err),
		)
	}
	p.complete(ctx, env.ID)

	if p.deadLetters != nil {
		if payload, err := json.Marshal(env); err == nil {
			if err := p.deadLetters.PublishToDLQ(mq.SendRoutingKey, payload, errMsg); err != nil {
				p.logger.Warn("Failed to dead-letter job",
					zap.String("job_id", env.ID),
					zap.Error(err),
				)
			}
		}
	}

	metrics.IncrementEmailProcessed("failed")
	p.logger.Error("Email failed permanently",
		zap.String("message_id", m.ID),
		zap.Int("retry_count", retryCount),
		zap.String("error", errMsg),
	)
	return nil
}

// resolveSender loads the sender's identity and SMTP overrides, falling back
// to the process defaults when the sender is gone or has no overrides.
func (p *Processor) resolveSender(ctx context.Context, senderID string) (transport.Settings, model.Sender) {
	settings := p.defaults
	from := model.Sender{Email: p.fromEmail}

	if senderID == "" {
		return settings, from
	}

	s, err := p.senders.FindByID(ctx, senderID)
	if err != nil {
		p.logger.Warn("Sender lookup failed, using default identity",
			zap.String("sender_id", senderID),
			zap.Error(err),
		)
		return settings, from
	}

	from = *s
	if s.SMTPHost != nil && *s.SMTPHost != "" {
		settings.Host = *s.SMTPHost
	}
	if s.SMTPPort != nil && *s.SMTPPort != 0 {
		settings.Port = *s.SMTPPort
	}
	if s.SMTPUser != nil && *s.SMTPUser != "" {
		settings.Username = *s.SMTPUser
	}
	if s.SMTPPassword != nil && *s.SMTPPassword != "" {
		settings.Password = *s.SMTPPassword
	}
	return settings, from
}

// infra decides the ack/nack outcome for an infrastructure error: retryable
// errors propagate so the broker redelivers, anything else is dropped.
func (p *Processor) infra(ctx context.Context, env *queue.Envelope, stage string, err error) error {
	retryable, errType := util.IsRetryableError(err)
	if retryable {
		p.logger.Warn("Transient failure, delivery will be retried",
			zap.String("job_id", env.ID),
			zap.String("stage", stage),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		return err
	}

	p.logger.Error("Unrecoverable failure, job dropped",
		zap.String("job_id", env.ID),
		zap.String("stage", stage),
		zap.String("error_type", errType),
		zap.Error(err),
	)
	p.complete(ctx, env.ID)
	metrics.IncrementEmailProcessed("dropped")
	return nil
}

func (p *Processor) drop(ctx context.Context, env *queue.Envelope, reason string) {
	p.complete(ctx, env.ID)
	metrics.IncrementEmailProcessed("dropped")
	p.logger.Info("Send job dropped",
		zap.String("job_id", env.ID),
		zap.String("reason", reason),
	)
}

func (p *Processor) complete(ctx context.Context, jobID string) {
	if err := p.queue.Complete(ctx, jobID); err != nil {
		p.logger.Warn("Failed to mark job complete", zap.String("job_id", jobID), zap.Error(err))
	}
}
