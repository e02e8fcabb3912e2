package cleaning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

func TestConfigValidator_Validate(t *testing.T) {
	valid := domain.SubjectConfig{
		BatchCode:   "B1",
		SubjectName: "math",
		Kind:        domain.SubjectKindExam,
		MaxScore:    10,
		Items:       []domain.ItemConfig{{ItemID: "q1", MaxScore: 5}, {ItemID: "q2", MaxScore: 5}},
	}

	tests := []struct {
		name     string
		subjects func() []domain.SubjectConfig
		dims     []domain.DimensionConfig
		wantErr  bool
	}{
		{
			name:     "valid",
			subjects: func() []domain.SubjectConfig { return []domain.SubjectConfig{valid} },
			dims:     []domain.DimensionConfig{{BatchCode: "B1", SubjectName: "math", Code: "d1", ItemIDs: []string{"q1", "q2"}}},
		},
		{
			name: "unknown kind",
			subjects: func() []domain.SubjectConfig {
				s := valid
				s.Kind = "essay"
				return []domain.SubjectConfig{s}
			},
			wantErr: true,
		},
		{
			name: "questionnaire without instrument",
			subjects: func() []domain.SubjectConfig {
				s := valid
				s.Kind = domain.SubjectKindQuestionnaire
				return []domain.SubjectConfig{s}
			},
			wantErr: true,
		},
		{
			name: "no items",
			subjects: func() []domain.SubjectConfig {
				s := valid
				s.Items = nil
				return []domain.SubjectConfig{s}
			},
			wantErr: true,
		},
		{
			name: "duplicate item",
			subjects: func() []domain.SubjectConfig {
				s := valid
				s.Items = []domain.ItemConfig{{ItemID: "q1", MaxScore: 1}, {ItemID: "q1", MaxScore: 1}}
				return []domain.SubjectConfig{s}
			},
			wantErr: true,
		},
		{
			name:     "dimension for unknown subject",
			subjects: func() []domain.SubjectConfig { return []domain.SubjectConfig{valid} },
			dims:     []domain.DimensionConfig{{BatchCode: "B1", SubjectName: "art", Code: "d1", ItemIDs: []string{"q1"}}},
			wantErr:  true,
		},
	}

	v := NewConfigValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.subjects(), tt.dims)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}
}
