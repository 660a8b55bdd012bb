package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/playgude2/stock-sentinel/internal/storage"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testNotification() Notification {
	return Notification{
		AlertID:          42,
		OwnerKey:         "+911234567890",
		Symbol:           "INFY",
		Kind:             storage.KindGapUp,
		ThresholdPercent: decimal.NewFromInt(8),
		MovePercent:      decimal.NewFromFloat(8.5),
		Price:            decimal.NewFromInt(1080),
		RefPrice:         decimal.NewFromInt(1000),
		ObservedAt:       time.Date(2025, 3, 3, 9, 17, 0, 0, time.UTC),
	}
}

func TestRenderMessage(t *testing.T) {
	msg := renderMessage(testNotification())

	for _, want := range []string{
		"🚨 STOCK ALERT: INFY",
		"Current Price: ₹1080.00",
		"Reference: ₹1000.00",
		"+8.50%",
		"gap up at open",
		"Alert ID: #42",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestRenderMessageDownMove(t *testing.T) {
	note := testNotification()
	note.Kind = storage.KindDropWindow
	note.WindowMinutes = 60
	note.MovePercent = decimal.NewFromFloat(-5.2)

	msg := renderMessage(note)
	if !strings.Contains(msg, "-5.20%") {
		t.Fatalf("negative move must not gain a plus sign:\n%s", msg)
	}
	if !strings.Contains(msg, "drop from 60m high") {
		t.Fatalf("window kind label missing:\n%s", msg)
	}
}

func TestWhatsAppNotifier(t *testing.T) {
	var gotPath, gotAuthUser string
	form := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuthUser, _, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sid": "SM123"})
	}))
	defer srv.Close()

	n := NewWhatsAppNotifier("AC1", "secret", "+10000000000", srv.URL, time.Second, testLogger())
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotPath != "/2010-04-01/Accounts/AC1/Messages.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuthUser != "AC1" {
		t.Fatalf("basic auth user = %q, want AC1", gotAuthUser)
	}
	if form["To"] != "whatsapp:+911234567890" {
		t.Fatalf("To = %q", form["To"])
	}
	if form["From"] != "whatsapp:+10000000000" {
		t.Fatalf("From = %q", form["From"])
	}
	if !strings.Contains(form["Body"], "STOCK ALERT") {
		t.Fatalf("Body = %q", form["Body"])
	}
}

func TestWhatsAppNotifierMissingRecipient(t *testing.T) {
	n := NewWhatsAppNotifier("AC1", "secret", "+10000000000", "http://unused", time.Second, testLogger())
	note := testNotification()
	note.OwnerKey = ""

	if err := n.Notify(context.Background(), note); err == nil {
		t.Fatal("missing recipient should error before any request")
	}
}

func TestWhatsAppNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewWhatsAppNotifier("AC1", "bad", "+10000000000", srv.URL, time.Second, testLogger())
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("HTTP 401 should surface as an error")
	}
}

func TestTelegramNotifier(t *testing.T) {
	received := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat42", srv.URL, time.Second, testLogger())
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if received["chat_id"] != "chat42" {
		t.Fatalf("chat_id = %q", received["chat_id"])
	}
	if received["text"] == "" {
		t.Fatal("text must not be empty")
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("ok=false should surface as an error")
	}
}

type fakeChannel struct {
	calls int
	err   error
}

func (f *fakeChannel) Notify(ctx context.Context, note Notification) error {
	f.calls++
	return f.err
}

func TestMultiNotifierPartialFailure(t *testing.T) {
	good := &fakeChannel{}
	bad := &fakeChannel{err: errors.New("boom")}

	multi := NewMultiNotifier([]Notifier{bad, good}, testLogger())
	if err := multi.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("one healthy channel should make delivery succeed: %v", err)
	}
	if good.calls != 1 || bad.calls != 1 {
		t.Fatalf("every channel must be attempted: good=%d bad=%d", good.calls, bad.calls)
	}
}

func TestMultiNotifierTotalFailure(t *testing.T) {
	a := &fakeChannel{err: errors.New("one")}
	b := &fakeChannel{err: errors.New("two")}

	multi := NewMultiNotifier([]Notifier{a, b}, testLogger())
	if err := multi.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("all channels failing must surface an error")
	}
}
