package abtest

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluate decides which variant, if any, a user receives. Short-circuits
// to nil on the first failing gate: status, targeting, traffic allocation.
// Purely a function of the experiment definition and the context — repeated
// calls always agree.
func Evaluate(exp *Experiment, uc UserContext) *Variant {
	if exp == nil || exp.Status != StatusRunning {
		return nil
	}
	if !Eligible(exp, uc) {
		return nil
	}
	if !InAllocation(exp, uc) {
		return nil
	}
	return SelectVariant(exp, uc.Key())
}

// Eligible applies the targeting predicate. Every specified filter must
// match; an absent audience imposes no restriction.
func Eligible(exp *Experiment, uc UserContext) bool {
	aud := exp.TargetAudience
	if aud == nil {
		return true
	}

	if len(aud.Devices) > 0 && !containsFold(aud.Devices, uc.Device) {
		return false
	}
	if len(aud.Countries) > 0 && !containsFold(aud.Countries, uc.Country) {
		return false
	}
	if len(aud.Browsers) > 0 && !containsFold(aud.Browsers, uc.Browser) {
		return false
	}
	if len(aud.Languages) > 0 && !containsFold(aud.Languages, uc.Language) {
		return false
	}
	if aud.NewUsers != nil && *aud.NewUsers != uc.IsNewUser {
		return false
	}
	for _, rule := range aud.Custom {
		if !evaluateRule(rule, uc.Properties[rule.Field]) {
			return false
		}
	}
	return true
}

// InAllocation reports whether the user's deterministic bucket falls inside
// the experiment's traffic percentage.
func InAllocation(exp *Experiment, uc UserContext) bool {
	return Bucket(uc.Key(), exp.ID) <= exp.TrafficAllocation
}

// SelectVariant performs the weighted deterministic draw over cumulative
// weights. The first variant whose cumulative weight reaches the draw wins,
// ties broken by list order.
func SelectVariant(exp *Experiment, userID string) *Variant {
	total := exp.TotalWeight()
	if total <= 0 || len(exp.Variants) == 0 {
		return nil
	}

	draw := variantDraw(userID, exp.ID, total)
	cumulative := 0
	for i := range exp.Variants {
		cumulative += exp.Variants[i].Weight
		if draw <= cumulative {
			return &exp.Variants[i]
		}
	}
	return &exp.Variants[0]
}

func evaluateRule(rule CustomRule, value any) bool {
	switch rule.Operator {
	case "equals":
		return asString(value) == asString(rule.Value)
	case "contains":
		return strings.Contains(asString(value), asString(rule.Value))
	case "greater":
		a, aok := asNumber(value)
		b, bok := asNumber(rule.Value)
		return aok && bok && a > b
	case "less":
		a, aok := asNumber(value)
		b, bok := asNumber(rule.Value)
		return aok && bok && a < b
	default:
		return false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
