package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/blobstore"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/router"
)

// slowLedger delays balance reads so a scan can be caught mid-flight.
type slowLedger struct {
	ledger.Ledger
	delay    time.Duration
	scanning chan struct{}
	once     sync.Once
}

func (s *slowLedger) Balance(ctx context.Context, name string) (int64, error) {
	s.once.Do(func() { close(s.scanning) })
	time.Sleep(s.delay)
	return s.Ledger.Balance(ctx, name)
}

func TestVerifier_StopWhileScanInFlight(t *testing.T) {
	// GIVEN: a verifier whose startup scan is still running
	// WHEN: Stop is called
	// THEN: it returns once the scan finishes instead of blocking forever

	ctx := context.Background()
	slow := &slowLedger{
		Ledger:   store.NewMemory(),
		delay:    50 * time.Millisecond,
		scanning: make(chan struct{}),
	}
	eng := ledger.NewEngine(slow, zerolog.Nop())
	require.NoError(t, eng.EnsureSystemAccounts(ctx))

	blobs, err := blobstore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })
	_, err = blobs.Put(ctx, "user:1:email", "alice@example.com")
	require.NoError(t, err)

	v := router.NewVerifier(eng, blobs, time.Hour, zerolog.Nop())
	v.Start()
	<-slow.scanning

	done := make(chan struct{})
	go func() {
		v.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked while a scan was in flight")
	}
}

func TestVerifier_ReportsMissingBlob(t *testing.T) {
	// GIVEN: a tagged reference whose blob content has vanished
	// WHEN: a scan runs
	// THEN: the field account is reported divergent

	r, eng, blobs := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRecord(ctx, "user", "1", map[string]string{"email": "alice@example.com"}))
	found, err := blobs.Delete(ctx, router.FieldAccount("user", "1", "email"))
	require.NoError(t, err)
	require.True(t, found)

	v := router.NewVerifier(eng, blobs, 0, zerolog.Nop())
	report := v.RunNow(ctx)

	require.Len(t, report.Divergent, 1)
	assert.Equal(t, router.FieldAccount("user", "1", "email"), report.Divergent[0])
	assert.False(t, report.FailedScan)
}
