package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "alarmd/pkg/logx"
)

type Config struct {
	// RatePerSec caps outgoing alerts across all channels. Alarm re-fires and
	// restart races can burst; the user needs one alert, not ten.
	RatePerSec int
}

// Service fans a platform alert out to all configured channels.
type Service struct {
	log      logx.Logger
	channels []Channel
	limiter  *rate.Limiter

	mu      sync.Mutex
	history []Delivery
}

// Delivery records one send attempt for operational visibility.
type Delivery struct {
	At      time.Time
	Channel string
	Title   string
	Err     string
}

func New(cfg Config, log logx.Logger, channels ...Channel) *Service {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Service{
		log:      log,
		channels: channels,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Alert pushes a to every channel. Failures are logged per channel and
// joined; one dead transport must not silence the others.
func (s *Service) Alert(ctx context.Context, a Alert) error {
	if !s.limiter.Allow() {
		s.log.Warn("alert rate limited, dropping", logx.String("title", a.Title))
		return nil
	}

	var errs []error
	for _, ch := range s.channels {
		err := ch.Send(ctx, a)
		s.record(Delivery{At: time.Now(), Channel: ch.Name(), Title: a.Title, Err: errString(err)})
		if err != nil {
			s.log.Warn("alert send failed",
				logx.String("channel", ch.Name()), logx.String("title", a.Title), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		s.log.Debug("alert sent",
			logx.String("channel", ch.Name()), logx.String("title", a.Title))
	}
	return errors.Join(errs...)
}

// History returns recent deliveries, newest last.
func (s *Service) History() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) record(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, d)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
