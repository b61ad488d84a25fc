package models

// GroupOperator combines the conditions inside one group.
type GroupOperator string

const (
	GroupOperatorAnd GroupOperator = "and"
	GroupOperatorOr  GroupOperator = "or"
)

// ConditionOperator compares a customer attribute against a value.
type ConditionOperator string

const (
	ConditionOperatorEquals      ConditionOperator = "equals"
	ConditionOperatorNotEquals   ConditionOperator = "not_equals"
	ConditionOperatorContains    ConditionOperator = "contains"
	ConditionOperatorNotContains ConditionOperator = "not_contains"
	ConditionOperatorGreaterThan ConditionOperator = "greater_than"
	ConditionOperatorLessThan    ConditionOperator = "less_than"
	ConditionOperatorExists      ConditionOperator = "exists"
	ConditionOperatorNotExists   ConditionOperator = "not_exists"
	ConditionOperatorIn          ConditionOperator = "in"
)

// Condition is one attribute comparison.
type Condition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value,omitempty"`
}

// ConditionGroup combines conditions with a single operator. Groups
// themselves are always ANDed together by the evaluator.
type ConditionGroup struct {
	Operator   GroupOperator `json:"operator"`
	Conditions []Condition   `json:"conditions"`
}

// Segment is a named, reusable condition-group tree.
type Segment struct {
	ID     string           `json:"id"`
	Name   string           `json:"name" validate:"required"`
	Groups []ConditionGroup `json:"groups"`
}
