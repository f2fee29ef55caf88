package transform

import (
	"strings"

	"github.com/polisai/enigma/pkg/config"
	"github.com/polisai/enigma/pkg/domain"
)

// rewriteQuery replaces comparison values on protected fields with the
// encoding stored in documents, so equality filters still match.
func rewriteQuery(keys *keySet, crypt *config.CryptConfig, filter map[string]any) error {
	for key, value := range filter {
		switch key {
		case "$and", "$or", "$nor":
			clauses, ok := value.([]any)
			if !ok {
				return domain.NewFieldError(key, domain.ErrInvalidDocument, "%s expects an array of filters", key)
			}
			for _, clause := range clauses {
				sub, ok := clause.(map[string]any)
				if !ok {
					return domain.NewFieldError(key, domain.ErrInvalidDocument, "%s expects an array of filters", key)
				}
				if err := rewriteQuery(keys, crypt, sub); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			continue
		}

		spec, ok := crypt.Field(key)
		if !ok {
			if err := checkEmbeddedMatch(crypt, key, value); err != nil {
				return err
			}
			continue
		}

		out, err := rewriteCondition(keys, spec, value)
		if err != nil {
			return err
		}
		filter[key] = out
	}
	return nil
}

func rewriteCondition(keys *keySet, spec config.FieldSpec, value any) (any, error) {
	if value == nil || isExistenceCheck(value) {
		return value, nil
	}
	if !spec.Mode.Queryable() {
		return nil, domain.NewFieldError(spec.Path, domain.ErrFieldNotQueryable,
			"%s fields cannot be queried", spec.Mode)
	}

	ops, ok := value.(map[string]any)
	if !ok || !isOperatorDocument(ops) {
		return encodeOperand(keys, spec, value)
	}

	for op, operand := range ops {
		switch op {
		case "$eq", "$ne":
			out, err := encodeOperand(keys, spec, operand)
			if err != nil {
				return nil, err
			}
			ops[op] = out
		case "$in", "$nin":
			list, ok := operand.([]any)
			if !ok {
				return nil, domain.NewFieldError(spec.Path, domain.ErrInvalidDocument, "%s expects an array", op)
			}
			for i, elem := range list {
				out, err := encodeOperand(keys, spec, elem)
				if err != nil {
					return nil, err
				}
				list[i] = out
			}
		case "$exists":
		default:
			return nil, domain.NewFieldError(spec.Path, domain.ErrUnsupportedOperator,
				"operator %s is not supported on encrypted fields", op)
		}
	}
	return ops, nil
}

func encodeOperand(keys *keySet, spec config.FieldSpec, value any) (any, error) {
	return eachLeaf(value, func(v any) (any, error) {
		out, err := keys.protect(spec.Path, spec.Mode, v)
		if err != nil {
			return nil, domain.NewFieldError(spec.Path, domain.ErrConfigInvalid, "encoding failed: %v", err)
		}
		return out, nil
	})
}

func isExistenceCheck(value any) bool {
	ops, ok := value.(map[string]any)
	if !ok || len(ops) != 1 {
		return false
	}
	_, ok = ops["$exists"]
	return ok
}

func isOperatorDocument(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// checkEmbeddedMatch rejects whole-document comparisons on a parent of a
// protected path. Stored values below it are ciphertext and would never match.
func checkEmbeddedMatch(crypt *config.CryptConfig, key string, value any) error {
	if _, ok := value.(map[string]any); !ok || isExistenceCheck(value) {
		return nil
	}
	for _, field := range crypt.Fields {
		if strings.HasPrefix(field.Path, key+".") {
			return domain.NewFieldError(key, domain.ErrFieldNotQueryable,
				"embedded document contains encrypted field %q", field.Path)
		}
	}
	return nil
}
