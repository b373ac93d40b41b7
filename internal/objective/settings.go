package objective

import (
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/rates"
	"github.com/copyleftdev/episim-calibrate/internal/table"
)

const dateLayout = "2006-01-02"

// Settings holds the tunables of all objectives.
type Settings struct {
	Unconstrained UnconstrainedSettings `yaml:"unconstrained"`
	Offset        OffsetSettings        `yaml:"offset"`
}

// UnconstrainedSettings configures the unconstrained objective.
type UnconstrainedSettings struct {
	OutputRoot string                 `yaml:"output_root"`
	ParamLow   float64                `yaml:"param_low"`
	ParamHigh  float64                `yaml:"param_high"`
	Infection  rates.InfectionOptions `yaml:"infection"`
}

// OffsetSettings configures the offset objective.
type OffsetSettings struct {
	OutputRoot    string `yaml:"output_root"`
	ReferencePath string `yaml:"reference_path"`
	// CalibrationParameter is fixed while the offset is searched. It has to
	// come from a finished unconstrained calibration.
	CalibrationParameter float64                `yaml:"calibration_parameter"`
	Days                 int                    `yaml:"days"`
	OffsetLow            int                    `yaml:"offset_low"`
	OffsetHigh           int                    `yaml:"offset_high"`
	Start                string                 `yaml:"start"`
	End                  string                 `yaml:"end"`
	Columns              table.ReferenceColumns `yaml:"columns"`
	Alignment            rates.Alignment        `yaml:"alignment"`
}

// DefaultSettings returns the settings of the Berlin calibration.
func DefaultSettings() Settings {
	hosp := rates.DefaultHospitalizationOptions()
	return Settings{
		Unconstrained: UnconstrainedSettings{
			OutputRoot: "output-calibration",
			ParamLow:   0.5e-6,
			ParamHigh:  3e-6,
			Infection:  rates.DefaultInfectionOptions(),
		},
		Offset: OffsetSettings{
			OutputRoot:           "output-calibration-restrictions",
			ReferencePath:        "berlin-hospital.csv",
			CalibrationParameter: 0.000006,
			Days:                 100,
			OffsetLow:            -8,
			OffsetHigh:           8,
			Start:                hosp.Start.Format(dateLayout),
			End:                  hosp.End.Format(dateLayout),
			Columns:              hosp.Columns,
			Alignment:            hosp.Alignment,
		},
	}
}

// Validate checks both objective sections.
func (s Settings) Validate() error {
	if err := s.Unconstrained.Validate(); err != nil {
		return err
	}
	return s.Offset.Validate()
}

// Validate checks the sampling range and the infection window.
func (s UnconstrainedSettings) Validate() error {
	const op = "objective.UnconstrainedSettings"
	if s.OutputRoot == "" {
		return errors.New(errors.KindConfig, op, "output root must not be empty")
	}
	if !(s.ParamLow > 0) || s.ParamHigh < s.ParamLow {
		return errors.Errorf(errors.KindConfig, op, "invalid parameter range [%g, %g]", s.ParamLow, s.ParamHigh)
	}
	return s.Infection.Validate()
}

// Validate checks the offset range and parses the comparison window.
func (s OffsetSettings) Validate() error {
	_, err := s.HospitalizationOptions()
	return err
}

// HospitalizationOptions converts the settings into extractor options.
func (s OffsetSettings) HospitalizationOptions() (rates.HospitalizationOptions, error) {
	const op = "objective.OffsetSettings"

	switch {
	case s.OutputRoot == "":
		return rates.HospitalizationOptions{}, errors.New(errors.KindConfig, op, "output root must not be empty")
	case s.ReferencePath == "":
		return rates.HospitalizationOptions{}, errors.New(errors.KindConfig, op, "reference path must not be empty")
	case !(s.CalibrationParameter > 0):
		return rates.HospitalizationOptions{}, errors.Errorf(errors.KindConfig, op, "calibration parameter must be positive, got %g", s.CalibrationParameter)
	case s.Days <= 0:
		return rates.HospitalizationOptions{}, errors.Errorf(errors.KindConfig, op, "days must be positive, got %d", s.Days)
	case s.OffsetHigh < s.OffsetLow:
		return rates.HospitalizationOptions{}, errors.Errorf(errors.KindConfig, op, "invalid offset range [%d, %d]", s.OffsetLow, s.OffsetHigh)
	}

	start, err := time.Parse(dateLayout, s.Start)
	if err != nil {
		return rates.HospitalizationOptions{}, errors.Wrapf(err, errors.KindConfig, op, "start %q", s.Start)
	}
	end, err := time.Parse(dateLayout, s.End)
	if err != nil {
		return rates.HospitalizationOptions{}, errors.Wrapf(err, errors.KindConfig, op, "end %q", s.End)
	}
	if end.Before(start) {
		return rates.HospitalizationOptions{}, errors.Errorf(errors.KindConfig, op, "window ends %s before it starts %s", s.End, s.Start)
	}

	opts := rates.HospitalizationOptions{
		Start:     start,
		End:       end,
		Columns:   s.Columns,
		Alignment: s.Alignment,
	}
	if opts.Alignment == "" {
		opts.Alignment = rates.AlignByDate
	}
	return opts, nil
}
