package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"modernc.org/sqlite"
)

// Vectors are stored as JSON arrays in TEXT columns so the agent's generated
// SQL can rank rows with dot_product(chunk_embedding, '<json vector>')
// directly inside the relational store. The scalar function below is
// registered with the driver once, process-wide.

func init() {
	sqlite.MustRegisterDeterministicScalarFunction("dot_product", 2, dotProduct)
}

// EncodeVector serializes an embedding for storage. A nil vector encodes as
// SQL NULL so unembedded rows are distinguishable from zero vectors.
func EncodeVector(v []float32) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		// float32 slices always marshal; reaching this means memory corruption.
		panic(fmt.Sprintf("store: encode vector: %v", err))
	}
	return string(b)
}

// DecodeVector parses a stored embedding column value.
func DecodeVector(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("store: decode vector: %w", err)
	}
	return v, nil
}

// dotProduct implements the dot_product SQL function over two JSON-encoded
// vectors. NULL in either argument yields NULL, so rows whose embedding has
// not landed yet rank as unknown rather than failing the whole query.
// Mismatched dimensions are an error: comparing vectors from different
// embedding configurations would produce silently meaningless scores.
func dotProduct(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, ok, err := vectorArg(args[0])
	if err != nil || !ok {
		return nil, err
	}
	b, ok, err := vectorArg(args[1])
	if err != nil || !ok {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("dot_product: dimension mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// vectorArg decodes one SQL argument into a vector. ok is false for NULL.
func vectorArg(v driver.Value) ([]float32, bool, error) {
	var raw string
	switch t := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		raw = t
	case []byte:
		raw = string(t)
	default:
		return nil, false, fmt.Errorf("dot_product: argument must be a JSON vector, got %T", v)
	}
	vec, err := DecodeVector(raw)
	if err != nil {
		return nil, false, fmt.Errorf("dot_product: %w", err)
	}
	return vec, true, nil
}
