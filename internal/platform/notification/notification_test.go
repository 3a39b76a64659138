package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type emailCall struct {
	To, Subject, Body string
}

type mockEmailSender struct {
	mu    sync.Mutex
	calls []emailCall
	err   error
}

func (m *mockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, emailCall{To: to, Subject: subject, Body: body})
	return m.err
}

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
	})

	subject, body, err := eng.Render("test-tpl", map[string]string{
		"name": "Alice",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", subject, "Hello Alice")
	}
	if body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q, want %q", body, "Dear Alice, your code is 1234.")
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	eng := NewTemplateEngine()
	for _, id := range []string{TemplateReferralCreated, TemplateReferralSent, TemplateReportReady} {
		if _, _, err := eng.Render(id, nil); err != nil {
			t.Errorf("built-in template %q: %v", id, err)
		}
	}
}

func TestTemplateEngine_UnknownPlaceholderKept(t *testing.T) {
	eng := NewTemplateEngine()
	subject, _, err := eng.Render(TemplateReportReady, map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(subject, "{{patient_name}}") {
		t.Errorf("expected unreplaced placeholder, got %q", subject)
	}
}

func TestManager_SendFromTemplate(t *testing.T) {
	sender := &mockEmailSender{}
	m := NewManager(sender, NewTemplateEngine(), 10)

	n, err := m.SendFromTemplate(context.Background(), TemplateReportReady, map[string]string{
		"patient_name": "Jane Roe",
		"test_type":    "CBC",
		"lab_name":     "Central Lab",
		"referral_id":  "r-1",
	}, "doctor@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != "sent" || n.SentAt == nil {
		t.Errorf("expected sent with timestamp, got %s", n.Status)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.calls))
	}
	call := sender.calls[0]
	if call.To != "doctor@example.com" {
		t.Errorf("expected recipient doctor@example.com, got %s", call.To)
	}
	if call.Subject != "Test report ready for Jane Roe" {
		t.Errorf("unexpected subject %q", call.Subject)
	}
	if !strings.Contains(call.Body, "CBC") {
		t.Errorf("expected body to mention test type, got %q", call.Body)
	}
}

func TestManager_SendFailure(t *testing.T) {
	sender := &mockEmailSender{err: errors.New("smtp down")}
	m := NewManager(sender, NewTemplateEngine(), 10)

	n, err := m.SendFromTemplate(context.Background(), TemplateReferralSent, nil, "lab@example.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if n == nil || n.Status != "failed" || n.Error != "smtp down" {
		t.Errorf("expected failed notification, got %+v", n)
	}
	if got := m.Recent(0); len(got) != 1 {
		t.Errorf("expected failed notification to be recorded, got %d", len(got))
	}
}

func TestManager_UnknownTemplate(t *testing.T) {
	sender := &mockEmailSender{}
	m := NewManager(sender, NewTemplateEngine(), 10)
	if _, err := m.SendFromTemplate(context.Background(), "nope", nil, "x"); err == nil {
		t.Fatal("expected error for unknown template")
	}
	if len(sender.calls) != 0 {
		t.Error("expected nothing sent")
	}
}

func TestManager_RecentBounded(t *testing.T) {
	m := NewManager(&mockEmailSender{}, NewTemplateEngine(), 3)
	for i := 0; i < 5; i++ {
		_ = m.Send(context.Background(), &Notification{Recipient: string(rune('a' + i))})
	}
	recent := m.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained, got %d", len(recent))
	}
	if recent[0].Recipient != "e" || recent[2].Recipient != "c" {
		t.Errorf("expected newest first e..c, got %s..%s", recent[0].Recipient, recent[2].Recipient)
	}
	if got := m.Recent(1); len(got) != 1 || got[0].Recipient != "e" {
		t.Errorf("expected limit 1 to return newest")
	}
}

func TestLogSender(t *testing.T) {
	s := LogSender{Logger: zerolog.Nop()}
	if err := s.SendEmail(context.Background(), "a@b.c", "s", "b"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
