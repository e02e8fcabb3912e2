package cleaning

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "edustat/internal/errors"
	"edustat/pkg/contracts/domain"
)

// ConfigValidator checks subject and dimension configuration before a run
type ConfigValidator struct {
	validate *validator.Validate
}

// NewConfigValidator creates a validator for batch configuration
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns a CONFIG error describing every problem found
func (v *ConfigValidator) Validate(subjects []domain.SubjectConfig, dims []domain.DimensionConfig) error {
	var problems []string

	items := make(map[string]map[string]bool, len(subjects))
	for _, subject := range subjects {
		if err := v.validate.Struct(subject); err != nil {
			problems = append(problems, describe(subject.SubjectName, err)...)
		}
		if _, dup := items[subject.SubjectName]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate subject config", subject.SubjectName))
		}
		set := make(map[string]bool, len(subject.Items))
		for _, item := range subject.Items {
			if set[item.ItemID] {
				problems = append(problems, fmt.Sprintf("%s: duplicate item %s", subject.SubjectName, item.ItemID))
			}
			set[item.ItemID] = true
		}
		items[subject.SubjectName] = set
	}

	for _, dim := range dims {
		if err := v.validate.Struct(dim); err != nil {
			problems = append(problems, describe(dim.SubjectName+"/"+dim.Code, err)...)
			continue
		}
		set, ok := items[dim.SubjectName]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s/%s: dimension references unknown subject", dim.SubjectName, dim.Code))
			continue
		}
		for _, itemID := range dim.ItemIDs {
			if !set[itemID] {
				problems = append(problems, fmt.Sprintf("%s/%s: item %s is not a scorable item of the subject", dim.SubjectName, dim.Code, itemID))
			}
		}
	}

	if len(problems) > 0 {
		return apperrors.NewConfigError("invalid batch configuration", fmt.Errorf("%s", strings.Join(problems, "; "))).
			WithContext("problems", problems)
	}
	return nil
}

func describe(scope string, err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{fmt.Sprintf("%s: %v", scope, err)}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: %s failed %s", scope, fe.Namespace(), fe.Tag()))
	}
	return out
}
