package provisioner

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/metrics"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/dennisdiepolder/monti/callcenter/internal/voice"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single provisioning attempt
const DefaultTimeout = 30 * time.Second

// Dispatcher runs provisioning in the background for freshly assigned calls
// and writes the results back to the store. Assignment never waits on it.
type Dispatcher struct {
	store       storage.CallStore
	provisioner Provisioner
	voice       voice.Provider
	sessions    *voice.Sessions
	policy      RetryPolicy
	limiter     *rate.Limiter
	timeout     time.Duration
	now         func() time.Time
	intN        func(n int) int
	events      types.EventSink
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the default retry policy and no throttling
func NewDispatcher(store storage.CallStore, p Provisioner, logger zerolog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:       store,
		provisioner: p,
		voice:       voice.NewNoopProvider(),
		sessions:    voice.NewSessions(),
		policy:      DefaultRetryPolicy(),
		limiter:     rate.NewLimiter(rate.Inf, 1),
		timeout:     DefaultTimeout,
		now:         time.Now,
		intN:        rand.IntN,
		events:      types.NopSink{},
		logger:      logger.With().Str("component", "provisioner").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetVoice sets the provider used to place automated agents' calls
func (d *Dispatcher) SetVoice(p voice.Provider, sessions *voice.Sessions) {
	d.voice = p
	d.sessions = sessions
}

// SetRetryPolicy replaces the retry policy
func (d *Dispatcher) SetRetryPolicy(policy RetryPolicy) {
	d.policy = policy
}

// SetRateLimit caps provisioning requests per second; 0 disables throttling
func (d *Dispatcher) SetRateLimit(perSecond float64) {
	if perSecond <= 0 {
		d.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// SetTimeout bounds each attempt
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// SetEventSink sets where lifecycle events go
func (d *Dispatcher) SetEventSink(sink types.EventSink) {
	if sink == nil {
		sink = types.NopSink{}
	}
	d.events = sink
}

// SetMetrics attaches collectors
func (d *Dispatcher) SetMetrics(mt *metrics.Metrics) {
	d.metrics = mt
}

// Dispatch provisions call asynchronously
func (d *Dispatcher) Dispatch(call *types.Call) {
	if call == nil || d.ctx.Err() != nil {
		return
	}
	snapshot := *call

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.placeVoiceCall(&snapshot)
		if err := d.provision(d.ctx, &snapshot); err != nil {
			d.logger.Error().Err(err).Str("call_id", snapshot.ID).Msg("conversation provisioning failed")
		}
	}()
}

// Regenerate provisions an active call again, typically after an earlier
// attempt failed. It blocks until provisioning finishes.
func (d *Dispatcher) Regenerate(ctx context.Context, callID string) error {
	call, err := d.store.Get(callID)
	if err != nil {
		return err
	}
	if call.Status != types.CallStatusActive {
		return domain.NewInvalidTransitionError(callID, call.Status, types.CallStatusActive)
	}
	return d.provision(ctx, call)
}

// Wait blocks until in-flight provisioning finishes
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop cancels in-flight provisioning and waits for workers to exit
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info().Msg("provisioner stopped")
}

func (d *Dispatcher) provision(ctx context.Context, call *types.Call) error {
	var conv *Conversation
	attempts, err := Retry(ctx, d.policy, func(ctx context.Context, attempt int) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := d.store.SetGeneration(call.ID, types.GenerationGenerating, attempt, d.now().Unix()); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		c, err := d.provisioner.Provision(attemptCtx, call.Issue)
		if err != nil {
			d.logger.Warn().
				Err(err).
				Str("call_id", call.ID).
				Int("attempt", attempt).
				Msg("provisioning attempt failed")
			return err
		}
		conv = c
		return nil
	})
	if err != nil {
		if serr := d.store.SetGeneration(call.ID, types.GenerationFailed, attempts, d.now().Unix()); serr != nil {
			d.logger.Debug().Err(serr).Str("call_id", call.ID).Msg("failed to record provisioning failure")
		}
		d.metrics.RecordProvisioning("failed", attempts)
		return domain.NewProvisioningError(call.ID, attempts, err)
	}

	if err := d.apply(call.ID, conv); err != nil {
		// the call usually ended while the conversation was being generated
		d.metrics.RecordProvisioning("discarded", attempts)
		d.logger.Debug().Err(err).Str("call_id", call.ID).Msg("provisioned conversation discarded")
		return nil
	}
	if err := d.store.SetGeneration(call.ID, types.GenerationCompleted, attempts, d.now().Unix()); err != nil {
		return err
	}

	d.metrics.RecordProvisioning("completed", attempts)
	d.events.Publish(types.LifecycleEvent{
		Type:      types.EventCallProvisioned,
		CallID:    call.ID,
		AgentID:   call.Agent(),
		Timestamp: d.now(),
	})
	d.logger.Info().
		Str("call_id", call.ID).
		Int("attempts", attempts).
		Int("turns", len(conv.Turns)).
		Msg("conversation provisioned")
	return nil
}

func (d *Dispatcher) apply(callID string, conv *Conversation) error {
	expected := conv.ExpectedDuration()
	if expected <= 0 {
		expected = int64(FallbackMinSeconds + d.intN(FallbackMaxSeconds-FallbackMinSeconds+1))
	}
	if err := d.store.SetExpectedDuration(callID, expected, d.now().Unix()); err != nil {
		return err
	}
	if err := d.store.SaveTurns(callID, conv.Turns); err != nil {
		return err
	}
	return d.store.SaveTranscript(types.Transcript{
		CallID:     callID,
		Transcript: conv.Transcript,
		Summary:    conv.Summary,
	})
}

// placeVoiceCall dials the customer for automated agents. Failures are logged only.
func (d *Dispatcher) placeVoiceCall(call *types.Call) {
	agentID := call.Agent()
	kind, _, ok := types.ParseAgentID(agentID)
	if !ok || kind != types.AgentKindAutomated {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	handle, err := d.voice.PlaceCall(ctx, voice.CallRequest{
		AgentID:       agentID,
		CallID:        call.ID,
		CustomerPhone: call.CustomerPhone,
		Issue:         call.Issue,
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("call_id", call.ID).Str("agent_id", agentID).Msg("failed to place voice call")
		return
	}

	// the call may have been closed while dialing
	if current, err := d.store.Get(call.ID); err != nil || current.Status != types.CallStatusActive || current.Agent() != agentID {
		if err := d.voice.EndCall(ctx, handle); err != nil {
			d.logger.Warn().Err(err).Str("call_id", call.ID).Msg("failed to end voice call for closed call")
		}
		return
	}
	d.sessions.Bind(agentID, handle)
}
