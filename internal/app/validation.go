package app

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"

	"finsense/internal/pipeline"
	"finsense/internal/portfolio"
)

// ValidationError 汇总请求体中的全部结构性问题。
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("请求参数无效: %v", e.err)
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// Problems 返回逐条问题描述。
func (e *ValidationError) Problems() []string {
	errs := multierr.Errors(e.err)
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

func newValidationError(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{err: err}
}

func invalid(format string, args ...interface{}) error {
	return newValidationError(fmt.Errorf(format, args...))
}

func validateRequest(prefix string, req pipeline.Request) error {
	var err error
	if req.Profile.Age < 0 {
		err = multierr.Append(err, fmt.Errorf("%sprofile.age 不能为负", prefix))
	}
	if req.Profile.HorizonYears < 0 {
		err = multierr.Append(err, fmt.Errorf("%sprofile.horizon_years 不能为负", prefix))
	}
	if req.Band != nil {
		err = multierr.Append(err, validateBand(prefix, *req.Band))
	}
	err = multierr.Append(err, validateMarket(prefix+"market", req.Market))
	err = multierr.Append(err, validateMarket(prefix+"prior_market", req.PriorMarket))
	return err
}

func validateAlertsRequest(req pipeline.AlertsRequest) error {
	var err error
	if vErr := portfolio.ValidateAllocation(req.Allocation); vErr != nil {
		err = multierr.Append(err, fmt.Errorf("allocation: %w", vErr))
	}
	if req.Band != nil {
		err = multierr.Append(err, validateBand("", *req.Band))
	}
	err = multierr.Append(err, validateMarket("market", req.Market))
	err = multierr.Append(err, validateMarket("prior_market", req.PriorMarket))
	return err
}

func validateBand(prefix string, b portfolio.RiskBand) error {
	if err := portfolio.ValidateBand(b); err != nil {
		return fmt.Errorf("%sband: %w", prefix, err)
	}
	return nil
}

func validateMarket(field string, m *portfolio.MarketState) error {
	if m == nil {
		return nil
	}
	var err error
	if m.SentimentLabel != "" {
		if _, ok := portfolio.ParseSentimentLabel(string(m.SentimentLabel)); !ok {
			err = multierr.Append(err, fmt.Errorf("%s.sentiment_label 未知: %q", field, m.SentimentLabel))
		}
	}
	c := m.SentimentConfidence
	if math.IsNaN(c) || c < 0 || c > 1 {
		err = multierr.Append(err, fmt.Errorf("%s.sentiment_confidence 必须位于[0,1]", field))
	}
	return err
}

func isValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
