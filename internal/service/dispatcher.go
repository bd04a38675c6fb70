package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/observability"
	"github.com/kursadbilgin/attendance-engine/internal/provider"
	"github.com/kursadbilgin/attendance-engine/internal/ratelimit"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout  = 10 * time.Second
	defaultWindowSize   = 10
	defaultWindowPause  = time.Second
	unknownProviderName = "none"
)

var errProviderPanic = errors.New("provider panic")

// DeliveryResult is the outcome of one send. Failures never surface as errors.
type DeliveryResult struct {
	Reference   string
	Success     bool
	MessageID   string
	Error       string
	ErrorClass  string
	DeliveredAt time.Time
	Provider    string
	Channel     domain.Channel
	Duration    time.Duration
}

// BatchItem pairs a schedule entry with the contact it is sent to.
type BatchItem struct {
	Entry   *domain.ScheduleEntry
	Contact domain.Recipient
}

// WebhookEvent is a normalized provider callback. Either ScheduleID or
// SessionID/AttemptID is set when the message id could be resolved.
type WebhookEvent struct {
	ScheduleID string
	SessionID  string
	AttemptID  string
	MessageID  string
	Channel    domain.Channel
	Status     domain.Status
	Timestamp  time.Time
	Error      string
}

// ProviderStats are per channel/provider counters.
type ProviderStats struct {
	Channel        domain.Channel
	Provider       string
	Sent           int64
	Delivered      int64
	Failed         int64
	Errors         map[string]int64
	AverageLatency time.Duration
	latencySamples int64
}

// ConfigurationReport is the result of TestConfiguration.
type ConfigurationReport struct {
	Channels map[domain.Channel]bool
	Errors   []string
}

type DispatcherConfig struct {
	SendTimeout time.Duration
	WindowSize  int
	WindowPause time.Duration
}

// Dispatcher routes sends to one provider per channel, isolates failures and
// keeps delivery statistics.
type Dispatcher struct {
	providers   map[domain.Channel]provider.Provider
	limiter     ratelimit.RateLimiter
	schedules   repository.ScheduleRepository
	sessions    repository.SessionRepository
	logger      *zap.Logger
	metrics     *observability.Metrics
	sendTimeout time.Duration
	windowSize  int
	windowPause time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	disabled map[domain.Channel]error
	stats    map[string]*ProviderStats
}

func NewDispatcher(
	providers []provider.Provider,
	limiter ratelimit.RateLimiter,
	schedules repository.ScheduleRepository,
	sessions repository.SessionRepository,
	cfg DispatcherConfig,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultWindowSize
	}
	if cfg.WindowPause <= 0 {
		cfg.WindowPause = defaultWindowPause
	}
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byChannel := make(map[domain.Channel]provider.Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		ch := p.Channel()
		if !ch.IsValid() {
			return nil, fmt.Errorf("%w: provider %s serves invalid channel %q", domain.ErrConfiguration, p.Name(), ch)
		}
		if existing, ok := byChannel[ch]; ok {
			return nil, fmt.Errorf("%w: channel %s has two providers (%s, %s)", domain.ErrConfiguration, ch, existing.Name(), p.Name())
		}
		byChannel[ch] = p
	}

	return &Dispatcher{
		providers:   byChannel,
		limiter:     limiter,
		schedules:   schedules,
		sessions:    sessions,
		logger:      logger,
		sendTimeout: cfg.SendTimeout,
		windowSize:  cfg.WindowSize,
		windowPause: cfg.WindowPause,
		now:         time.Now,
		sleep:       sleepContext,
		disabled:    make(map[domain.Channel]error),
		stats:       make(map[string]*ProviderStats),
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Send delivers one schedule entry to its contact.
func (d *Dispatcher) Send(ctx context.Context, entry *domain.ScheduleEntry, contact domain.Recipient) DeliveryResult {
	if entry == nil {
		return DeliveryResult{Error: "schedule entry is nil", ErrorClass: provider.ClassValidation}
	}
	return d.Deliver(ctx, provider.Message{
		Reference:   entry.ID,
		Channel:     entry.Channel,
		Destination: contact.Destination(entry.Channel),
		Subject:     entry.Subject,
		Content:     entry.Content,
	})
}

// Deliver sends a rendered message. Provider errors, timeouts and panics are
// converted into an unsuccessful result.
func (d *Dispatcher) Deliver(ctx context.Context, msg provider.Message) DeliveryResult {
	result := DeliveryResult{Reference: msg.Reference, Channel: msg.Channel, Provider: unknownProviderName}

	p, err := d.providerFor(msg.Channel)
	if err != nil {
		return d.finish(ctx, result, err, 0)
	}
	result.Provider = p.Name()

	if strings.TrimSpace(msg.Destination) == "" {
		return d.finish(ctx, result, fmt.Errorf("%w: no %s destination for %s", domain.ErrValidation,
			strings.ToLower(msg.Channel.String()), msg.Reference), 0)
	}
	if err := d.limiter.Wait(ctx, msg.Channel); err != nil {
		return d.finish(ctx, result, fmt.Errorf("rate limiter wait failed: %w", err), 0)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := d.now()
	resp, err := invoke(callCtx, p, msg)
	elapsed := d.now().Sub(start)
	if err == nil && resp != nil {
		result.MessageID = strings.TrimSpace(resp.MessageID)
	}
	return d.finish(ctx, result, err, elapsed)
}

func invoke(ctx context.Context, p provider.Provider, msg provider.Message) (resp *provider.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("%w: %w: %s panicked: %v", domain.ErrDelivery, errProviderPanic, p.Name(), r)
		}
	}()
	return p.Send(ctx, msg)
}

func (d *Dispatcher) finish(ctx context.Context, result DeliveryResult, err error, elapsed time.Duration) DeliveryResult {
	result.Duration = elapsed
	if err == nil {
		result.Success = true
		result.DeliveredAt = d.now().UTC()
	} else {
		result.Error = err.Error()
		result.ErrorClass = provider.Classify(err)
		if errors.Is(err, errProviderPanic) {
			result.ErrorClass = provider.ClassPanic
		}
		observability.WithContextLogger(ctx, d.logger).Warn("delivery failed",
			zap.String("reference", result.Reference),
			zap.String("channel", result.Channel.String()),
			zap.String("provider", result.Provider),
			zap.String("class", result.ErrorClass),
			zap.Error(err),
		)
	}

	d.recordSend(result)
	d.metrics.ObserveDelivery(result.Channel.String(), result.Provider, result.Success, result.ErrorClass, elapsed)
	return result
}

func (d *Dispatcher) providerFor(ch domain.Channel) (provider.Provider, error) {
	p, ok := d.providers[ch]
	if !ok {
		return nil, fmt.Errorf("%w: no provider configured for channel %s", domain.ErrConfiguration, ch)
	}

	d.mu.RLock()
	disabledErr := d.disabled[ch]
	d.mu.RUnlock()
	if disabledErr != nil {
		return nil, fmt.Errorf("channel %s disabled: %w", ch, disabledErr)
	}
	return p, nil
}

// SendBatch sends items in windows of WindowSize concurrent sends, pausing
// between windows. Results are keyed by entry id; a cancelled context marks
// the remaining items as failed.
func (d *Dispatcher) SendBatch(ctx context.Context, items []BatchItem) map[string]DeliveryResult {
	results := make(map[string]DeliveryResult, len(items))
	var mu sync.Mutex

	for start := 0; start < len(items); start += d.windowSize {
		if start > 0 {
			if err := d.sleep(ctx, d.windowPause); err != nil {
				for _, item := range items[start:] {
					if item.Entry == nil {
						continue
					}
					results[item.Entry.ID] = DeliveryResult{
						Reference:  item.Entry.ID,
						Channel:    item.Entry.Channel,
						Error:      fmt.Sprintf("batch interrupted: %v", err),
						ErrorClass: provider.Classify(err),
					}
				}
				return results
			}
		}

		end := min(start+d.windowSize, len(items))
		var g errgroup.Group
		for _, item := range items[start:end] {
			if item.Entry == nil {
				continue
			}
			g.Go(func() error {
				res := d.Send(ctx, item.Entry, item.Contact)
				mu.Lock()
				results[item.Entry.ID] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

// ProcessWebhook normalizes a provider callback and resolves provider message
// ids to schedule entries or recovery attempts.
func (d *Dispatcher) ProcessWebhook(ctx context.Context, providerName, channel string, payload []byte) ([]WebhookEvent, error) {
	ch, err := domain.ParseChannelFromString(channel)
	if err != nil {
		return nil, err
	}

	feedback, err := provider.ParseFeedback(providerName, ch, payload, d.now().UTC())
	if err != nil {
		return nil, err
	}

	events := make([]WebhookEvent, 0, len(feedback))
	for _, fb := range feedback {
		ev := WebhookEvent{
			ScheduleID: fb.ScheduleID,
			MessageID:  fb.MessageID,
			Channel:    ch,
			Status:     fb.Status,
			Timestamp:  fb.Timestamp,
			Error:      fb.Error,
		}
		if ev.ScheduleID == "" && ev.MessageID != "" {
			if err := d.resolve(ctx, &ev); err != nil {
				return nil, err
			}
		}
		if ev.ScheduleID == "" && ev.AttemptID == "" {
			d.logger.Debug("webhook event for unknown message",
				zap.String("provider", providerName),
				zap.String("messageId", ev.MessageID),
			)
		}

		d.recordFeedback(ch, providerName, ev.Status)
		d.metrics.IncFeedback(ch.String(), ev.Status.String())
		events = append(events, ev)
	}
	return events, nil
}

func (d *Dispatcher) resolve(ctx context.Context, ev *WebhookEvent) error {
	if d.schedules != nil {
		entry, err := d.schedules.GetByProviderMessageID(ctx, ev.MessageID)
		switch {
		case err == nil:
			ev.ScheduleID = entry.ID
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("failed to resolve message id: %w", err)
		}
	}

	if d.sessions != nil {
		session, err := d.sessions.GetByAttemptMessageID(ctx, ev.MessageID)
		switch {
		case err == nil:
			ev.SessionID = session.ID
			for _, a := range session.Attempts {
				if a.ProviderMessageID == ev.MessageID {
					ev.AttemptID = a.ID
				}
			}
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("failed to resolve message id: %w", err)
		}
	}
	return nil
}

// TestConfiguration checks every supported channel. A failing channel is
// disabled until a later check passes; other channels are unaffected.
func (d *Dispatcher) TestConfiguration(ctx context.Context) ConfigurationReport {
	report := ConfigurationReport{Channels: make(map[domain.Channel]bool, len(domain.SupportedChannels))}

	for _, ch := range domain.SupportedChannels {
		var checkErr error
		p, ok := d.providers[ch]
		if !ok {
			checkErr = fmt.Errorf("%w: no provider configured for channel %s", domain.ErrConfiguration, ch)
		} else if err := p.TestConfiguration(ctx); err != nil {
			checkErr = fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, p.Name(), err)
		}

		d.mu.Lock()
		if checkErr != nil {
			d.disabled[ch] = checkErr
		} else {
			delete(d.disabled, ch)
		}
		d.mu.Unlock()

		report.Channels[ch] = checkErr == nil
		if checkErr != nil {
			report.Errors = append(report.Errors, checkErr.Error())
			d.logger.Warn("channel disabled", zap.String("channel", ch.String()), zap.Error(checkErr))
		}
	}
	return report
}

// Metrics returns a copy of the per channel/provider statistics.
func (d *Dispatcher) Metrics() []ProviderStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ProviderStats, 0, len(d.stats))
	for _, s := range d.stats {
		cp := *s
		cp.Errors = make(map[string]int64, len(s.Errors))
		for k, v := range s.Errors {
			cp.Errors[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

func (d *Dispatcher) statsFor(ch domain.Channel, providerName string) *ProviderStats {
	key := ch.String() + "/" + providerName
	s, ok := d.stats[key]
	if !ok {
		s = &ProviderStats{Channel: ch, Provider: providerName, Errors: make(map[string]int64)}
		d.stats[key] = s
	}
	return s
}

func (d *Dispatcher) recordSend(result DeliveryResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.statsFor(result.Channel, result.Provider)
	if result.Success {
		s.Sent++
	} else {
		s.Failed++
		s.Errors[result.ErrorClass]++
	}
	if result.Duration > 0 {
		s.latencySamples++
		s.AverageLatency += (result.Duration - s.AverageLatency) / time.Duration(s.latencySamples)
	}
}

func (d *Dispatcher) recordFeedback(ch domain.Channel, format string, status domain.Status) {
	name := unknownProviderName
	if p, ok := d.providers[ch]; ok {
		name = p.Name()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.statsFor(ch, name)
	switch status {
	case domain.StatusDelivered:
		s.Delivered++
	case domain.StatusFailed:
		s.Failed++
		s.Errors["feedback:"+strings.ToLower(format)]++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
