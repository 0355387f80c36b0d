// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/models"
)

type mockBlockStore struct {
	mu     sync.Mutex
	blocks []models.IPBlock
	err    error
}

func (m *mockBlockStore) InsertIPBlock(ctx context.Context, block *models.IPBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	block.ID = int64(len(m.blocks) + 1)
	m.blocks = append(m.blocks, *block)
	return nil
}

func (m *mockBlockStore) IsIPBlocked(ctx context.Context, ip string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.blocks) - 1; i >= 0; i-- {
		if m.blocks[i].IP == ip {
			return now.Before(m.blocks[i].ExpiresAt), nil
		}
	}
	return false, nil
}

func (m *mockBlockStore) blockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks)
}

func bruteForceConfig() config.BruteForceConfig {
	return config.BruteForceConfig{
		Window:            15 * time.Minute,
		MaxFailedAttempts: 5,
		AlertThreshold:    3,
		Lockout:           30 * time.Minute,
		DistributedMinIPs: 3,
	}
}

func loginEvent(user, ip string, ok bool, at time.Time) *models.ActivityEvent {
	return &models.ActivityEvent{
		SessionID: "s-" + user,
		UserID:    user,
		Timestamp: at,
		Path:      "/login",
		Method:    "POST",
		Action:    models.ActionLoginAttempt,
		IP:        ip,
		LoginOK:   ok,
	}
}

func TestBruteForce_LockoutAtMaxAttempts(t *testing.T) {
	blocks := &mockBlockStore{}
	d := NewBruteForceDetector(bruteForceConfig(), blocks)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var alert *Alert
	for i := 0; i < 5; i++ {
		var err error
		alert, err = d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", false, base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}

	if alert == nil {
		t.Fatal("expected a lockout alert on the 5th failure")
	}
	if alert.Severity != SeverityCritical {
		t.Errorf("Severity = %s, want critical", alert.Severity)
	}
	if blocks.blockCount() != 1 {
		t.Fatalf("blocks issued = %d, want 1", blocks.blockCount())
	}

	blocked, _ := blocks.IsIPBlocked(context.Background(), "10.0.0.1", base.Add(10*time.Minute))
	if !blocked {
		t.Error("IP should be blocked after lockout")
	}
	blocked, _ = blocks.IsIPBlocked(context.Background(), "10.0.0.1", base.Add(45*time.Minute))
	if blocked {
		t.Error("block should have expired after the lockout duration")
	}
}

func TestBruteForce_WarningAtThreshold(t *testing.T) {
	d := NewBruteForceDetector(bruteForceConfig(), &mockBlockStore{})
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var alert *Alert
	for i := 0; i < 3; i++ {
		alert, _ = d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", false, base.Add(time.Duration(i)*time.Second)))
	}

	if alert == nil {
		t.Fatal("expected a warning alert at the alert threshold")
	}
	if alert.Severity != SeverityWarning {
		t.Errorf("Severity = %s, want warning", alert.Severity)
	}
	if alert.Type != AlertTypeBruteForce {
		t.Errorf("Type = %s, want brute_force", alert.Type)
	}
}

func TestBruteForce_SuccessClearsWindow(t *testing.T) {
	blocks := &mockBlockStore{}
	d := NewBruteForceDetector(bruteForceConfig(), blocks)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", false, base.Add(time.Duration(i)*time.Second)))
	}
	if alert, _ := d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", true, base.Add(5*time.Second))); alert != nil {
		t.Errorf("successful login raised an alert: %+v", alert)
	}

	// The next failure starts from a clean window.
	alert, _ := d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", false, base.Add(6*time.Second)))
	if alert != nil {
		t.Errorf("first failure after success raised an alert: %+v", alert)
	}
	if blocks.blockCount() != 0 {
		t.Errorf("blocks issued = %d, want 0", blocks.blockCount())
	}
}

func TestBruteForce_WindowExpiry(t *testing.T) {
	blocks := &mockBlockStore{}
	d := NewBruteForceDetector(bruteForceConfig(), blocks)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Four failures, then a fifth 20 minutes later: the first four have
	// aged out of the 15-minute window, so no lockout.
	for i := 0; i < 4; i++ {
		d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", false, base.Add(time.Duration(i)*time.Second)))
	}
	alert, _ := d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", false, base.Add(20*time.Minute)))

	if alert != nil {
		t.Errorf("expired failures still triggered an alert: %+v", alert)
	}
	if blocks.blockCount() != 0 {
		t.Errorf("blocks issued = %d, want 0", blocks.blockCount())
	}
}

func TestBruteForce_DistributedEscalation(t *testing.T) {
	d := NewBruteForceDetector(bruteForceConfig(), &mockBlockStore{})
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var alert *Alert
	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i+1)
		alert, _ = d.Check(context.Background(), loginEvent("manager1", ip, false, base.Add(time.Duration(i)*time.Second)))
	}

	if alert == nil {
		t.Fatal("expected a distributed-attack alert at 3 distinct IPs")
	}
	if alert.Type != AlertTypeDistributedAttack {
		t.Errorf("Type = %s, want distributed_attack", alert.Type)
	}
	if alert.Severity != SeverityCritical {
		t.Errorf("Severity = %s, want critical", alert.Severity)
	}
}

func TestBruteForce_DistributedAttackStillLocksOut(t *testing.T) {
	blocks := &mockBlockStore{}
	d := NewBruteForceDetector(bruteForceConfig(), blocks)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Spread failures across enough IPs to trip the distributed signal.
	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i+1)
		d.Check(context.Background(), loginEvent("manager1", ip, false, base.Add(time.Duration(i)*time.Second)))
	}

	// One of the sources then keeps hammering past the lockout
	// threshold. The escalated alert type must not exempt it from
	// being blocked.
	for i := 0; i < 11; i++ {
		d.Check(context.Background(), loginEvent("manager1", "10.0.0.3", false, base.Add(time.Duration(10+i)*time.Second)))
	}

	if blocks.blockCount() == 0 {
		t.Fatal("no IP block issued during a distributed attack")
	}
	blocked, _ := blocks.IsIPBlocked(context.Background(), "10.0.0.3", base.Add(time.Minute))
	if !blocked {
		t.Error("IP 10.0.0.3 should be blocked after exceeding the lockout threshold")
	}
}

func TestBruteForce_RuntimeThreshold(t *testing.T) {
	blocks := &mockBlockStore{}
	d := NewBruteForceDetector(bruteForceConfig(), blocks)
	d.SetMaxFailedAttempts(2)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", false, base))
	alert, _ := d.Check(context.Background(), loginEvent("cashier1", "10.0.0.1", false, base.Add(time.Second)))

	if alert == nil || alert.Severity != SeverityCritical {
		t.Fatalf("alert = %+v, want a critical lockout at the lowered threshold", alert)
	}
	if blocks.blockCount() != 1 {
		t.Errorf("blocks issued = %d, want 1", blocks.blockCount())
	}

	// Values below one are rejected.
	d.SetMaxFailedAttempts(0)
	if got := d.maxAttempts.Load(); got != 2 {
		t.Errorf("maxAttempts = %d, want 2 after rejecting 0", got)
	}
}

func TestBruteForce_IgnoresOtherActions(t *testing.T) {
	d := NewBruteForceDetector(bruteForceConfig(), &mockBlockStore{})
	event := &models.ActivityEvent{
		UserID: "u1", IP: "10.0.0.1", Action: models.ActionPageView,
		Timestamp: time.Now().UTC(),
	}
	if alert, _ := d.Check(context.Background(), event); alert != nil {
		t.Errorf("page view raised a brute-force alert: %+v", alert)
	}
}
