package validation

import (
	"fmt"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
	"github.com/ceterislabs/ceteris/pkg/types"
)

const (
	maxNameLength      = 256
	maxStatementLength = 4096
)

var contextTypes = []string{
	string(ctxstore.TypeTemporal),
	string(ctxstore.TypeSpatial),
	string(ctxstore.TypeThematic),
	string(ctxstore.TypeTask),
	string(ctxstore.TypeDialogue),
	string(ctxstore.TypeUser),
	string(ctxstore.TypeSystem),
	string(ctxstore.TypeCustom),
}

var strategies = []string{
	string(retrieval.StrategyExactMatch),
	string(retrieval.StrategySemanticSimilarity),
	string(retrieval.StrategyTemporalRecency),
	string(retrieval.StrategyHierarchical),
	string(retrieval.StrategyWeighted),
	string(retrieval.StrategyCustom),
}

var defaultKinds = []string{
	string(defaults.KindNormal),
	string(defaults.KindSupernormal),
	string(defaults.KindConditional),
	string(defaults.KindStatistical),
	string(defaults.KindDefeasible),
}

func validStatement(c *Collector, field, value string) {
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, maxStatementLength))
}

// ValidateCreateContextRequest checks a context creation request.
func ValidateCreateContextRequest(req types.CreateContextRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("name", req.Name))
	c.Add(ValidateMaxLength("name", req.Name, maxNameLength))
	c.Add(ValidateUTF8("name", req.Name))
	c.Add(ValidateRequired("type", req.Type))
	if req.Type != "" {
		c.Add(ValidateEnum("type", req.Type, contextTypes))
	}
	return c.Errors()
}

// ValidateSetVariableRequest checks a variable assignment request.
func ValidateSetVariableRequest(req types.SetVariableRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("name", req.Name))
	c.Add(ValidateMaxLength("name", req.Name, maxNameLength))
	c.Add(ValidateUTF8("name", req.Name))
	return c.Errors()
}

// ValidateMergeRequest checks a context merge request.
func ValidateMergeRequest(req types.MergeRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("source_id", req.SourceID))
	c.Add(ValidateRequired("target_id", req.TargetID))
	if req.SourceID != "" && req.SourceID == req.TargetID {
		c.Add(&ValidationError{Field: "target_id", Message: "must differ from source_id"})
	}
	return c.Errors()
}

// ValidateDeriveRequest checks a context derivation request.
func ValidateDeriveRequest(req types.DeriveRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("name", req.Name))
	c.Add(ValidateMaxLength("name", req.Name, maxNameLength))
	if req.Type != "" {
		c.Add(ValidateEnum("type", req.Type, contextTypes))
	}
	return c.Errors()
}

// ValidateRetrieveRequest checks a retrieval request.
func ValidateRetrieveRequest(req types.RetrieveRequest) []ValidationError {
	var c Collector
	switch q := req.Query.(type) {
	case nil:
		c.Add(&ValidationError{Field: "query", Message: "is required"})
	case string:
		c.Add(ValidateRequired("query", q))
		validStatement(&c, "query", q)
	case map[string]any:
		if len(q) == 0 {
			c.Add(&ValidationError{Field: "query", Message: "must not be empty"})
		}
	default:
		c.Add(&ValidationError{Field: "query", Message: "must be a string or an object"})
	}
	if req.Strategy != "" {
		c.Add(ValidateEnum("strategy", req.Strategy, strategies))
	}
	if req.MaxResults < 0 {
		c.Add(&ValidationError{Field: "max_results", Message: "must not be negative"})
	}
	c.Add(ValidateRange("min_confidence", req.MinConfidence, 0, 1))
	c.Add(ValidateRange("min_relevance", req.MinRelevance, 0, 1))
	if req.Sensitivity != nil {
		c.Add(ValidateRange("sensitivity", *req.Sensitivity, 0, 1))
	}
	return c.Errors()
}

// ValidateAddDefaultRequest checks a default rule registration.
func ValidateAddDefaultRequest(req types.AddDefaultRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("consequent", req.Consequent))
	validStatement(&c, "consequent", req.Consequent)
	validStatement(&c, "prerequisite", req.Prerequisite)
	validStatement(&c, "justification", req.Justification)
	if req.Kind != "" {
		c.Add(ValidateEnum("kind", req.Kind, defaultKinds))
	}
	c.Add(ValidateRange("confidence", req.Confidence, 0, 1))
	return c.Errors()
}

// ValidateAddExceptionRequest checks an exception registration.
func ValidateAddExceptionRequest(req types.AddExceptionRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("condition", req.Condition))
	validStatement(&c, "condition", req.Condition)
	c.Add(ValidateRange("confidence", req.Confidence, 0, 1))
	return c.Errors()
}

// ValidateQueryRequest checks a reasoning pipeline request.
func ValidateQueryRequest(req types.QueryRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("query", req.Query))
	validStatement(&c, "query", req.Query)
	if req.MaxResults < 0 {
		c.Add(&ValidationError{Field: "max_results", Message: "must not be negative"})
	}
	c.Add(ValidateRange("min_confidence", req.MinConfidence, 0, 1))
	c.Add(ValidateRange("min_relevance", req.MinRelevance, 0, 1))
	if req.ConfidenceThreshold != nil {
		c.Add(ValidateRange("confidence_threshold", *req.ConfidenceThreshold, 0, 1))
	}
	return c.Errors()
}

// ValidateEntityRequest checks an entity registration.
func ValidateEntityRequest(req types.EntityRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("id", req.ID))
	c.Add(ValidateMaxLength("id", req.ID, maxNameLength))
	c.Add(ValidateUTF8("id", req.ID))
	for name := range req.Properties {
		if err := ValidateRequired(fmt.Sprintf("properties.%s", name), name); err != nil {
			c.Add(&ValidationError{Field: "properties", Message: "property names must not be empty"})
			break
		}
	}
	c.Add(ValidateRange("confidence", req.Confidence, 0, 1))
	return c.Errors()
}

// ValidateRelationRequest checks a relation registration.
func ValidateRelationRequest(req types.RelationRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("source", req.Source))
	c.Add(ValidateRequired("type", req.Type))
	c.Add(ValidateRequired("target", req.Target))
	c.Add(ValidateRange("confidence", req.Confidence, 0, 1))
	return c.Errors()
}
