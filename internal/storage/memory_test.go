package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

func testSession(t *testing.T, devAddrHex string, fCnt uint32) *models.DeviceSession {
	t.Helper()

	devAddr, err := lorawan.ParseDevAddr(devAddrHex)
	if err != nil {
		t.Fatalf("parse devaddr: %v", err)
	}
	nwk, err := lorawan.ParseAES128Key("000102030405060708090A0B0C0D0E0F")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	app, err := lorawan.ParseAES128Key("F0E0D0C0B0A090807060504030201000")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return &models.DeviceSession{
		DevAddr:  devAddr,
		Name:     "sensor",
		NwkSKey:  nwk,
		AppSKey:  app,
		LastFCnt: fCnt,
	}
}

func TestSessionCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	session := testSession(t, "26011BDA", 10)
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.GetSession(ctx, session.DevAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "sensor" || got.LastFCnt != 10 {
		t.Fatalf("unexpected session: %+v", got)
	}

	// overwrite, last write wins
	session.Name = "sensor-2"
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put again: %v", err)
	}
	got, err = store.GetSession(ctx, session.DevAddr)
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if got.Name != "sensor-2" {
		t.Fatalf("overwrite did not win: %+v", got)
	}

	if err := store.DeleteSession(ctx, session.DevAddr); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetSession(ctx, session.DevAddr); err != ErrNotFound {
		t.Fatalf("get deleted: got %v, want ErrNotFound", err)
	}
	if err := store.DeleteSession(ctx, session.DevAddr); err != ErrNotFound {
		t.Fatalf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestListSessionsSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, hex := range []string{"26022CEB", "26011BDA", "01020304"} {
		if err := store.PutSession(ctx, testSession(t, hex, 0)); err != nil {
			t.Fatalf("put %s: %v", hex, err)
		}
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("len: got %d, want 3", len(sessions))
	}
	for i, want := range []string{"01020304", "26011BDA", "26022CEB"} {
		if sessions[i].DevAddr.String() != want {
			t.Fatalf("order[%d]: got %s, want %s", i, sessions[i].DevAddr, want)
		}
	}
}

func TestAdvanceFrameCounterMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	session := testSession(t, "26011BDA", 100)
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := store.AdvanceFrameCounter(ctx, session.DevAddr, 150); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, _ := store.GetSession(ctx, session.DevAddr)
	if got.LastFCnt != 150 {
		t.Fatalf("counter: got %d, want 150", got.LastFCnt)
	}

	// a lower value never lowers the counter
	if err := store.AdvanceFrameCounter(ctx, session.DevAddr, 50); err != nil {
		t.Fatalf("advance lower: %v", err)
	}
	got, _ = store.GetSession(ctx, session.DevAddr)
	if got.LastFCnt != 150 {
		t.Fatalf("counter went backward: got %d, want 150", got.LastFCnt)
	}

	var missing lorawan.DevAddr
	if err := store.AdvanceFrameCounter(ctx, missing, 1); err != ErrNotFound {
		t.Fatalf("advance missing: got %v, want ErrNotFound", err)
	}
}

func TestAdvanceFrameCounterConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	session := testSession(t, "26011BDA", 0)
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put: %v", err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(fCnt uint32) {
			defer wg.Done()
			_ = store.AdvanceFrameCounter(ctx, session.DevAddr, fCnt)
		}(uint32(i))
	}
	wg.Wait()

	got, err := store.GetSession(ctx, session.DevAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastFCnt != 100 {
		t.Fatalf("counter after concurrent advances: got %d, want 100", got.LastFCnt)
	}
}

func TestDecoderRegistry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	decoder := &models.Decoder{Name: "TempSensor", Source: models.DecoderUpload, Script: "function decode(){}"}
	if err := store.CreateDecoder(ctx, decoder); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateDecoder(ctx, &models.Decoder{Name: "tempsensor"}); err != ErrDuplicateKey {
		t.Fatalf("duplicate create: got %v, want ErrDuplicateKey", err)
	}

	got, err := store.GetDecoder(ctx, "TEMPSENSOR")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Script != decoder.Script {
		t.Fatalf("script mismatch: %q", got.Script)
	}

	if err := store.DeleteDecoder(ctx, "tempsensor"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetDecoder(ctx, "TempSensor"); err != ErrNotFound {
		t.Fatalf("get deleted: got %v, want ErrNotFound", err)
	}
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	user := &models.User{Email: "admin@example.com", Name: "Admin", IsAdmin: true, IsActive: true}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateUser(ctx, &models.User{Email: "Admin@Example.com"}); err != ErrDuplicateKey {
		t.Fatalf("duplicate email: got %v, want ErrDuplicateKey", err)
	}

	got, err := store.GetUserByEmail(ctx, "ADMIN@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsAdmin {
		t.Fatalf("unexpected user: %+v", got)
	}
}
