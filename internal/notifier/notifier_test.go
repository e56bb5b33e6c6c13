package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"otp-service/internal/clock"
	"otp-service/internal/config"
	"otp-service/internal/model"
)

func testDelivery(channel model.Channel) Delivery {
	return Delivery{
		Identifier: "user@example.com",
		Channel:    channel,
		Code:       "123456",
		ExpiresAt:  time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC),
	}
}

func TestLogRevealsCodeOutsideProduction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLog(zap.New(core), false)

	if err := n.Deliver(context.Background(), testDelivery(model.ChannelEmail)); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	entries := logs.FilterField(zap.String("otp", "123456")).All()
	if len(entries) != 1 {
		t.Fatalf("expected code in dev log, got %d entries", len(entries))
	}
}

func TestLogHidesCodeInProduction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLog(zap.New(core), true)

	if err := n.Deliver(context.Background(), testDelivery(model.ChannelSMS)); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	for _, e := range logs.All() {
		for _, f := range e.Context {
			if f.Key == "otp" || f.String == "123456" {
				t.Fatalf("production log leaked the code: %+v", e.Context)
			}
		}
	}
	if logs.FilterField(zap.String("op", "otp:sms_placeholder")).Len() != 1 {
		t.Fatal("expected placeholder entry")
	}
}

type fakeSender struct {
	msgs []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestSMTPDeliver(t *testing.T) {
	sender := &fakeSender{}
	n := NewSMTP(sender, config.MailConfig{From: "OTP <otp@example.com>", Subject: "Your code"}, "OTP API")

	if err := n.Deliver(context.Background(), testDelivery(model.ChannelEmail)); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if len(sender.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.msgs))
	}
	msg := sender.msgs[0]
	if msg.To[0] != "user@example.com" || msg.Subject != "Your code" {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	if !strings.Contains(msg.TextBody, "123456") || !strings.Contains(msg.HTMLBody, "123456") {
		t.Error("expected code in both bodies")
	}

	err := n.Deliver(context.Background(), testDelivery(model.ChannelSMS))
	if !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("sms via smtp error = %v, want ErrUnsupportedChannel", err)
	}
}

func TestSMTPSenderSend(t *testing.T) {
	s, err := NewSMTPSender(config.MailConfig{
		From:         "OTP <otp@example.com>",
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPUsername: "u",
		SMTPPassword: "p",
	})
	if err != nil {
		t.Fatalf("NewSMTPSender error: %v", err)
	}

	var gotAddr, gotFrom string
	var gotRaw []byte
	s.sendMail = func(addr string, _ smtp.Auth, from string, _ []string, msg []byte) error {
		gotAddr, gotFrom, gotRaw = addr, from, msg
		return nil
	}

	err = s.Send(context.Background(), Message{To: []string{"user@example.com"}, Subject: "Code", TextBody: "t", HTMLBody: "<b>h</b>"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "otp@example.com" {
		t.Errorf("addr=%s from=%s", gotAddr, gotFrom)
	}
	raw := string(gotRaw)
	if !strings.Contains(raw, "From: OTP <otp@example.com>") || !strings.Contains(raw, "multipart/alternative") {
		t.Errorf("unexpected raw message:\n%s", raw)
	}

	if err := s.Send(context.Background(), Message{}); !errors.Is(err, ErrSMTPNoRecipients) {
		t.Errorf("expected ErrSMTPNoRecipients, got %v", err)
	}
	if err := s.Send(context.Background(), Message{To: []string{"a@b.com"}, Subject: "x\r\nBcc: evil@x.com"}); err == nil {
		t.Error("expected header injection to be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, Message{To: []string{"a@b.com"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewSMTPSenderRequiresHost(t *testing.T) {
	if _, err := NewSMTPSender(config.MailConfig{}); !errors.Is(err, ErrSMTPHostPortRequired) {
		t.Fatalf("expected ErrSMTPHostPortRequired, got %v", err)
	}
}

type fakeProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

func (p *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return nil
}

func TestKafkaDeliver(t *testing.T) {
	p := &fakeProducer{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	n := NewKafka(p, "otp.delivery", clk)

	if err := n.Deliver(context.Background(), testDelivery(model.ChannelSMS)); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if p.topic != "otp.delivery" || string(p.key) != "user@example.com" {
		t.Errorf("topic=%s key=%s", p.topic, p.key)
	}

	var event model.DeliveryEvent
	if err := json.Unmarshal(p.value, &event); err != nil {
		t.Fatalf("invalid event payload: %v", err)
	}
	if event.EventID == "" || event.Code != "123456" || event.Channel != model.ChannelSMS {
		t.Errorf("unexpected event: %+v", event)
	}
	if !event.CreatedAt.Equal(clk.Now()) {
		t.Errorf("CreatedAt = %v", event.CreatedAt)
	}
	if p.headers["event_id"] != event.EventID {
		t.Error("event_id header must match payload")
	}

	if err := n.Deliver(context.Background(), testDelivery("pigeon")); !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("expected ErrUnsupportedChannel, got %v", err)
	}
}

func TestRetrying(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", failures: 0, attempts: 3, wantCalls: 1},
		{name: "recovers", failures: 2, err: errors.New("boom"), attempts: 3, wantCalls: 3},
		{name: "exhausted", failures: 5, err: errors.New("boom"), attempts: 3, wantCalls: 3, wantErr: true},
		{name: "unsupported not retried", failures: 5, err: ErrUnsupportedChannel, attempts: 3, wantCalls: 1, wantErr: true},
		{name: "single attempt", failures: 1, err: errors.New("boom"), attempts: 0, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			inner := Func(func(context.Context, Delivery) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			err := NewRetrying(inner, tt.attempts).WithStep(time.Millisecond).Deliver(context.Background(), testDelivery(model.ChannelEmail))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Deliver error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}
