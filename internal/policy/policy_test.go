package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cexll/pollbot/internal/platform"
)

type optOutSet map[string]bool

func (s optOutSet) IsOptedOut(author string) bool { return s[strings.ToLower(author)] }

func TestMayReply(t *testing.T) {
	const self = "markerbot"

	tests := []struct {
		name    string
		comment *platform.Comment
		optOuts optOutSet
		want    bool
	}{
		{
			name:    "fresh comment",
			comment: &platform.Comment{ID: "c1", Author: "alice"},
			want:    true,
		},
		{
			name:    "own comment",
			comment: &platform.Comment{ID: "c1", Author: self},
			want:    false,
		},
		{
			name:    "own comment different case",
			comment: &platform.Comment{ID: "c1", Author: "MarkerBot"},
			want:    false,
		},
		{
			name:    "opted out author",
			comment: &platform.Comment{ID: "c1", Author: "alice"},
			optOuts: optOutSet{"alice": true},
			want:    false,
		},
		{
			name: "already replied",
			comment: &platform.Comment{ID: "c1", Author: "alice", Replies: []platform.Reply{
				{ID: "r1", Author: "carol"},
				{ID: "r2", Author: self},
			}},
			want: false,
		},
		{
			name: "others replied",
			comment: &platform.Comment{ID: "c1", Author: "alice", Replies: []platform.Reply{
				{ID: "r1", Author: "carol"},
				{ID: "r2", Author: ""},
			}},
			want: true,
		},
		{
			name:    "nil comment",
			comment: nil,
			want:    false,
		},
		{
			name:    "deleted author is not self",
			comment: &platform.Comment{ID: "c1", Author: ""},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MayReply(tt.comment, self, tt.optOuts))
		})
	}
}

func TestMayReply_IdempotentOnceReplied(t *testing.T) {
	c := &platform.Comment{ID: "c1", Author: "alice"}
	for i := 0; i < 20; i++ {
		c.Replies = append(c.Replies, platform.Reply{ID: "x", Author: "someone"})
	}
	c.Replies = append(c.Replies, platform.Reply{ID: "mine", Author: "markerbot"})

	for i := 0; i < 5; i++ {
		assert.False(t, MayReply(c, "markerbot", nil))
	}
}

func TestMarkerMatcher(t *testing.T) {
	match := MarkerMatcher("test")

	assert.True(t, match("this is a TEST comment"))
	assert.True(t, match("tEsT"))
	assert.True(t, match("contest"), "substring match")
	assert.False(t, match("nothing here"))
	assert.False(t, MarkerMatcher("")("anything"))
}

func TestIsOptOutRequest(t *testing.T) {
	tests := []struct {
		name string
		msg  *platform.Message
		want bool
	}{
		{"subject", &platform.Message{Author: "bob", Subject: "unsubscribe"}, true},
		{"body mixed case", &platform.Message{Author: "bob", Subject: "hi", Body: "please UnSubscribe me"}, true},
		{"unrelated", &platform.Message{Author: "bob", Subject: "hello", Body: "nice bot"}, false},
		{"system message", &platform.Message{Subject: "unsubscribe", Body: "moderation notice"}, false},
		{"nil message", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOptOutRequest(tt.msg, "unsubscribe"))
		})
	}
}
