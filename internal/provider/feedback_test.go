package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

func TestParseFeedback(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_500, 0).UTC()

	tests := []struct {
		name    string
		format  string
		channel domain.Channel
		payload string
		want    []FeedbackEvent
	}{
		{
			name:    "sendgrid batch drops processed events",
			format:  FormatSendGrid,
			channel: domain.ChannelEmail,
			payload: `[
				{"event":"processed","sg_message_id":"abc.filter1","timestamp":1700000000},
				{"event":"open","sg_message_id":"abc.filter1","timestamp":1700000100},
				{"event":"bounce","sg_message_id":"def.filter2","timestamp":1700000200,"reason":"mailbox full"}
			]`,
			want: []FeedbackEvent{
				{MessageID: "abc", Channel: domain.ChannelEmail, Status: domain.StatusOpened, Timestamp: time.Unix(1_700_000_100, 0).UTC()},
				{MessageID: "def", Channel: domain.ChannelEmail, Status: domain.StatusFailed, Timestamp: time.Unix(1_700_000_200, 0).UTC(), Error: "mailbox full"},
			},
		},
		{
			name:    "twilio form callback",
			format:  FormatTwilio,
			channel: domain.ChannelSMS,
			payload: "MessageSid=SM1&MessageStatus=undelivered&ErrorCode=30003&ErrorMessage=Unreachable",
			want: []FeedbackEvent{
				{MessageID: "SM1", Channel: domain.ChannelSMS, Status: domain.StatusFailed, Timestamp: now, Error: "30003: Unreachable"},
			},
		},
		{
			name:    "twilio json bridge",
			format:  FormatTwilio,
			channel: domain.ChannelSMS,
			payload: `{"MessageSid":"SM2","MessageStatus":"delivered"}`,
			want: []FeedbackEvent{
				{MessageID: "SM2", Channel: domain.ChannelSMS, Status: domain.StatusDelivered, Timestamp: now},
			},
		},
		{
			name:    "whatsapp read receipt",
			format:  FormatWhatsApp,
			channel: domain.ChannelWhatsApp,
			payload: `{"entry":[{"changes":[{"value":{"statuses":[
				{"id":"wamid.1","status":"read","timestamp":"1700000300"},
				{"id":"wamid.2","status":"failed","timestamp":"1700000301","errors":[{"title":"Re-engagement message"}]}
			]}}]}]}`,
			want: []FeedbackEvent{
				{MessageID: "wamid.1", Channel: domain.ChannelWhatsApp, Status: domain.StatusOpened, Timestamp: time.Unix(1_700_000_300, 0).UTC()},
				{MessageID: "wamid.2", Channel: domain.ChannelWhatsApp, Status: domain.StatusFailed, Timestamp: time.Unix(1_700_000_301, 0).UTC(), Error: "Re-engagement message"},
			},
		},
		{
			name:    "generic with schedule reference",
			format:  FormatGeneric,
			channel: domain.ChannelPush,
			payload: `{"schedule_id":"entry-9","status":"clicked","timestamp":"2023-11-14T22:13:20Z"}`,
			want: []FeedbackEvent{
				{ScheduleID: "entry-9", Channel: domain.ChannelPush, Status: domain.StatusClicked, Timestamp: time.Unix(1_700_000_000, 0).UTC()},
			},
		},
		{
			name:    "generic rejected maps to failed",
			format:  FormatGeneric,
			channel: domain.ChannelEmail,
			payload: `{"message_id":"m1","status":"rejected","reason":"policy"}`,
			want: []FeedbackEvent{
				{MessageID: "m1", Channel: domain.ChannelEmail, Status: domain.StatusFailed, Timestamp: now, Error: "policy"},
			},
		},
		{
			name:    "sendgrid rejected maps to failed",
			format:  FormatSendGrid,
			channel: domain.ChannelEmail,
			payload: `[{"event":"rejected","sg_message_id":"ghi.filter3","timestamp":1700000400}]`,
			want: []FeedbackEvent{
				{MessageID: "ghi", Channel: domain.ChannelEmail, Status: domain.StatusFailed, Timestamp: time.Unix(1_700_000_400, 0).UTC()},
			},
		},
		{
			name:    "twilio canceled maps to failed",
			format:  FormatTwilio,
			channel: domain.ChannelSMS,
			payload: "MessageSid=SM3&MessageStatus=canceled",
			want: []FeedbackEvent{
				{MessageID: "SM3", Channel: domain.ChannelSMS, Status: domain.StatusFailed, Timestamp: now},
			},
		},
		{
			name:    "generic without identifiers is dropped",
			format:  FormatGeneric,
			channel: domain.ChannelPush,
			payload: `{"status":"delivered"}`,
			want:    []FeedbackEvent{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseFeedback(tt.format, tt.channel, []byte(tt.payload), now)
			if err != nil {
				t.Fatalf("ParseFeedback() unexpected error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseFeedback() returned %d events, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("event[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseFeedbackRejectsBadInput(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if _, err := ParseFeedback("mailgun", domain.ChannelEmail, []byte(`{}`), now); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown provider error = %v, want ErrValidation", err)
	}
	if _, err := ParseFeedback(FormatSendGrid, domain.ChannelEmail, []byte(`not json`), now); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("invalid json error = %v, want ErrValidation", err)
	}
}
