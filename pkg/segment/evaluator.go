// Package segment evaluates segment condition groups against customer
// profiles. Evaluation is pure: missing attributes never error, they
// simply fail to match (not_exists being the exception).
package segment

import (
	"strings"

	"github.com/dukex/itinera/pkg/models"
)

// Matches reports whether the customer satisfies every condition group.
// Groups combine with AND; conditions inside a group combine per the
// group's operator. An empty group list matches nobody.
func Matches(customer *models.Customer, groups []models.ConditionGroup) bool {
	if len(groups) == 0 {
		return false
	}

	for _, group := range groups {
		if !matchGroup(customer, group) {
			return false
		}
	}

	return true
}

// MatchesSegment reports whether the customer is currently a member of the
// segment.
func MatchesSegment(customer *models.Customer, seg *models.Segment) bool {
	return Matches(customer, seg.Groups)
}

func matchGroup(customer *models.Customer, group models.ConditionGroup) bool {
	if len(group.Conditions) == 0 {
		return false
	}

	switch group.Operator {
	case models.GroupOperatorOr:
		for _, condition := range group.Conditions {
			if matchCondition(customer, condition) {
				return true
			}
		}

		return false
	case models.GroupOperatorAnd:
		for _, condition := range group.Conditions {
			if !matchCondition(customer, condition) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

func matchCondition(customer *models.Customer, condition models.Condition) bool {
	value, present := customer.Attribute(condition.Field)

	switch condition.Operator {
	case models.ConditionOperatorExists:
		return present
	case models.ConditionOperatorNotExists:
		return !present
	case models.ConditionOperatorEquals:
		return present && looseEqual(value, condition.Value)
	case models.ConditionOperatorNotEquals:
		return present && !looseEqual(value, condition.Value)
	case models.ConditionOperatorContains:
		return present && contains(value, condition.Value)
	case models.ConditionOperatorNotContains:
		return present && !contains(value, condition.Value)
	case models.ConditionOperatorGreaterThan:
		return present && compareNumbers(value, condition.Value, func(a, b float64) bool { return a > b })
	case models.ConditionOperatorLessThan:
		return present && compareNumbers(value, condition.Value, func(a, b float64) bool { return a < b })
	case models.ConditionOperatorIn:
		return present && memberOf(value, condition.Value)
	default:
		return false
	}
}

// looseEqual compares attribute and condition values across the numeric
// representations JSON round-trips produce.
func looseEqual(a, b any) bool {
	aNum, aOK := toFloat(a)
	bNum, bOK := toFloat(b)

	if aOK && bOK {
		return aNum == bNum
	}

	return a == b
}

func contains(value, needle any) bool {
	switch v := value.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false
		}

		return strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if looseEqual(item, needle) {
				return true
			}
		}

		return false
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false
		}

		for _, item := range v {
			if item == s {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func memberOf(value, list any) bool {
	switch l := list.(type) {
	case []any:
		for _, item := range l {
			if looseEqual(value, item) {
				return true
			}
		}
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}

		for _, item := range l {
			if item == s {
				return true
			}
		}
	}

	return false
}

func compareNumbers(a, b any, cmp func(a, b float64) bool) bool {
	aNum, aOK := toFloat(a)
	bNum, bOK := toFloat(b)

	if !aOK || !bOK {
		return false
	}

	return cmp(aNum, bNum)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
