package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/model"
)

// BonusLink makes an imported scale the target of a bonus.
type BonusLink struct {
	SourceGradingScaleID int64               `json:"source_grading_scale_id" yaml:"source_grading_scale_id"`
	Weight               float64             `json:"weight" yaml:"weight"`
	BonusStrategy        model.BonusStrategy `json:"bonus_strategy" yaml:"bonus_strategy"`
}

// ScaleImport is an import document: a grading scale and an optional bonus link.
type ScaleImport struct {
	Scale model.GradingScale `json:"scale" yaml:"scale"`
	Bonus *BonusLink         `json:"bonus,omitempty" yaml:"bonus,omitempty"`
}

// GradingScaleService validates and stores grading scales.
type GradingScaleService struct {
	scaleRepo gradingScaleStore
	log       zerolog.Logger
}

// NewGradingScaleService creates a new GradingScaleService.
func NewGradingScaleService(scaleRepo gradingScaleStore, log zerolog.Logger) *GradingScaleService {
	return &GradingScaleService{
		scaleRepo: scaleRepo,
		log:       log.With().Str("component", "grading_scale_service").Logger(),
	}
}

// Import replaces the owner's grading scale and, when given, its bonus link.
func (s *GradingScaleService) Import(ctx context.Context, in *ScaleImport) (*model.GradingScale, error) {
	scale := &in.Scale
	if scale.GradeType == "" {
		scale.GradeType = model.GradeTypeGrade
	}
	if err := validateScale(scale); err != nil {
		return nil, err
	}
	if in.Bonus != nil {
		if err := validateBonus(scale, in.Bonus); err != nil {
			return nil, err
		}
	}

	id, err := s.scaleRepo.Upsert(ctx, scale)
	if err != nil {
		return nil, err
	}
	scale.ID = id

	if in.Bonus != nil {
		source, err := s.scaleRepo.GetByID(ctx, in.Bonus.SourceGradingScaleID)
		if err != nil {
			return nil, err
		}
		if source.ID == id {
			return nil, apperror.InvalidArgument("a grading scale cannot be its own bonus source")
		}
		b := &model.Bonus{
			SourceGradingScaleID: source.ID,
			TargetGradingScaleID: id,
			Weight:               in.Bonus.Weight,
			BonusStrategy:        in.Bonus.BonusStrategy,
		}
		if err := s.scaleRepo.UpsertBonus(ctx, b); err != nil {
			return nil, fmt.Errorf("link bonus: %w", err)
		}
	}

	s.log.Info().Int64("grading_scale_id", id).Int("steps", len(scale.GradeSteps)).Msg("Grading scale imported")
	return scale, nil
}

func validateScale(scale *model.GradingScale) error {
	if scale.GradeType != model.GradeTypeGrade && scale.GradeType != model.GradeTypeBonus {
		return apperror.InvalidArgument("unknown grade type %q", scale.GradeType)
	}
	if len(scale.GradeSteps) == 0 {
		return apperror.InvalidArgument("grading scale has no steps")
	}

	steps := slices.Clone(scale.GradeSteps)
	slices.SortFunc(steps, func(a, b model.GradeStep) int {
		switch {
		case a.LowerBoundPercentage < b.LowerBoundPercentage:
			return -1
		case a.LowerBoundPercentage > b.LowerBoundPercentage:
			return 1
		}
		return 0
	})

	names := make(map[string]bool, len(steps))
	for i, st := range steps {
		name := strings.TrimSpace(st.GradeName)
		if name == "" {
			return apperror.InvalidArgument("grade step %d has no name", i)
		}
		if names[name] {
			return apperror.InvalidArgument("grade %q appears twice", name)
		}
		names[name] = true
		if st.LowerBoundPercentage < 0 || st.LowerBoundPercentage > st.UpperBoundPercentage {
			return apperror.InvalidArgument("grade %q has bounds [%g, %g)", name, st.LowerBoundPercentage, st.UpperBoundPercentage)
		}
		if i > 0 && st.LowerBoundPercentage < steps[i-1].UpperBoundPercentage {
			return apperror.InvalidArgument("grade %q overlaps grade %q", name, steps[i-1].GradeName)
		}
	}
	return nil
}

func validateBonus(target *model.GradingScale, b *BonusLink) error {
	if b.Weight == 0 {
		return apperror.InvalidArgument("bonus weight must not be zero")
	}
	switch b.BonusStrategy {
	case model.BonusStrategyPoints:
		return nil
	case model.BonusStrategyGradesContinuous:
		for _, st := range target.GradeSteps {
			if _, err := grading.ParseGradeNumeric(st.GradeName); err != nil {
				return apperror.InvalidArgument("grade %q is not numeric, continuous bonus needs numeric grades", st.GradeName)
			}
		}
		return nil
	default:
		return apperror.InvalidArgument("unknown bonus strategy %q", b.BonusStrategy)
	}
}
