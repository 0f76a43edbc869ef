package answer_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nqdang/qbattle/internal/answer"
	"github.com/nqdang/qbattle/internal/domain"
)

func TestIsCorrect(t *testing.T) {
	tests := map[string]struct {
		submitted string
		canonical string
		accepted  []domain.AcceptedAnswer
		want      bool
	}{
		"exact match": {
			submitted: "hà nội",
			canonical: "hà nội",
			want:      true,
		},
		"case and whitespace insensitive": {
			submitted: "  Hà Nội ",
			canonical: "hà nội",
			want:      true,
		},
		"accepted alternate matches": {
			submitted: "Thăng Long",
			canonical: "hà nội",
			accepted:  []domain.AcceptedAnswer{{Answer: "thăng long"}, {Answer: "đông đô"}},
			want:      true,
		},
		"accepted set order independent": {
			submitted: "đông đô",
			canonical: "hà nội",
			accepted:  []domain.AcceptedAnswer{{Answer: "thăng long"}, {Answer: "đông đô"}},
			want:      true,
		},
		"no partial matching": {
			submitted: "hà",
			canonical: "hà nội",
			want:      false,
		},
		"empty submission never matches": {
			submitted: "   ",
			canonical: "",
			want:      false,
		},
		"wrong answer": {
			submitted: "huế",
			canonical: "hà nội",
			accepted:  []domain.AcceptedAnswer{{Answer: "thăng long"}},
			want:      false,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := answer.IsCorrect(tt.submitted, tt.canonical, tt.accepted)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsCorrectLoose(t *testing.T) {
	// The legacy solo heuristic accepts containment in either direction.
	assert.True(t, answer.IsCorrectLoose("thành phố hà nội", "hà nội", nil))
	assert.True(t, answer.IsCorrectLoose("hà nội", "thủ đô hà nội", nil))
	assert.False(t, answer.IsCorrectLoose("huế", "hà nội", nil))
	assert.False(t, answer.IsCorrectLoose("", "hà nội", nil))
}

func TestAcceptedAnswer_BothShapes(t *testing.T) {
	var got []domain.AcceptedAnswer
	raw := `["thăng long", {"id": 7, "answer": "đông đô"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &got))

	require.Len(t, got, 2)
	assert.Equal(t, "thăng long", got[0].Answer)
	assert.Equal(t, "đông đô", got[1].Answer)
	assert.EqualValues(t, 7, got[1].ID)

	assert.True(t, answer.IsCorrect("Đông Đô", "hà nội", got))
}
