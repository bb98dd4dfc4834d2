package sched_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
	"license-activation-server/internal/infra/sched"
)

type sweepCodeRepo struct {
	repository.ActivationCodeRepository
	mu    sync.Mutex
	codes map[string]*model.ActivationCode
}

func (s *sweepCodeRepo) FindActiveExpiredBy(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ActivationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ActivationCode
	for _, c := range s.codes {
		if c.Status == model.CodeStatusActive && c.ExpiredBy(now) {
			cp := *c
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *sweepCodeRepo) Save(ctx context.Context, tx repository.Tx, c *model.ActivationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.codes[c.Code] = &cp
	return nil
}

type inlineTxManager struct{}

func (inlineTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

func TestExpiryWorker_Sweep(t *testing.T) {
	logger := zerolog.New(io.Discard)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	dev := "machine-1"

	repo := &sweepCodeRepo{codes: map[string]*model.ActivationCode{
		"lapsed": {
			Code: "lapsed", Tier: model.TierMonthly, Status: model.CodeStatusActive,
			BoundDevice: &dev, ActivatedAt: &past, ExpiresAt: &past,
		},
		"live": {
			Code: "live", Tier: model.TierMonthly, Status: model.CodeStatusActive,
			BoundDevice: &dev, ActivatedAt: &past, ExpiresAt: &future,
		},
		"fresh": {
			Code: "fresh", Tier: model.TierMonthly, Status: model.CodeStatusUnused,
		},
	}}

	w := sched.NewExpiryWorker(time.Hour, repo, inlineTxManager{}, &logger)
	n, err := w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d codes, want 1", n)
	}
	if repo.codes["lapsed"].Status != model.CodeStatusExpired {
		t.Errorf("lapsed code status = %s, want expired", repo.codes["lapsed"].Status)
	}
	if repo.codes["live"].Status != model.CodeStatusActive {
		t.Errorf("live code status = %s, want active", repo.codes["live"].Status)
	}

	// Nothing left to sweep on the second pass.
	n, err = w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep transitioned %d codes, want 0", n)
	}
}
