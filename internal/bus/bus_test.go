package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var received atomic.Bool
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, tenantID, domain.TopicAssessmentCompleted, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			received.Store(true)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		// Allow subscription to be active
		time.Sleep(10 * time.Millisecond)

		err = bus.Publish(ctx, tenantID, domain.TopicAssessmentCompleted, []byte(`{"creditScore":1380}`))
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		// Wait for message
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Success
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}

		if !received.Load() {
			t.Error("message not received")
		}

		if string(receivedMsg.Payload) != `{"creditScore":1380}` {
			t.Errorf("unexpected payload '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.TenantID != tenantID {
			t.Errorf("expected tenantID '%s', got '%s'", tenantID, receivedMsg.TenantID)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		tenant1 := "tenant-001"
		tenant2 := "tenant-002"

		var received1 atomic.Int32
		var received2 atomic.Int32

		bus.Subscribe(ctx, tenant1, domain.TopicAssessmentRejected, func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})

		bus.Subscribe(ctx, tenant2, domain.TopicAssessmentRejected, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		// Publish to tenant1
		bus.Publish(ctx, tenant1, domain.TopicAssessmentRejected, []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("tenant1 should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("tenant2 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("WildcardSubscription", func(t *testing.T) {
		var mu sync.Mutex
		var seen []string

		sub, err := bus.Subscribe(ctx, domain.TenantWildcard, domain.TopicAssessmentRequested, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			seen = append(seen, msg.TenantID)
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("wildcard subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		time.Sleep(10 * time.Millisecond)

		// The wildcard subscriber must receive requests from every tenant.
		bus.Publish(ctx, "tenant-001", domain.TopicAssessmentRequested, []byte("a"))
		bus.Publish(ctx, "tenant-002", domain.TopicAssessmentRequested, []byte("b"))
		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if len(seen) != 2 {
			t.Fatalf("expected 2 messages across tenants, got %d", len(seen))
		}
		if seen[0] != "tenant-001" || seen[1] != "tenant-002" {
			t.Errorf("unexpected tenant order: %v", seen)
		}
	})

	t.Run("WildcardPublishRejected", func(t *testing.T) {
		if err := bus.Publish(ctx, domain.TenantWildcard, "topic", []byte("data")); err == nil {
			t.Error("expected error publishing with the tenant wildcard")
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := bus.Publish(ctx, "", "topic", []byte("data"))
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		// Should still be 1 after unsubscribe
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("ClosedBus", func(t *testing.T) {
		closedBus := NewChannelBus(10)
		closedBus.Close()

		if err := closedBus.Publish(ctx, tenantID, "topic", []byte("data")); err == nil {
			t.Error("expected error publishing to closed bus")
		}
		if err := closedBus.Ping(ctx); err == nil {
			t.Error("expected ping failure on closed bus")
		}
	})
}
