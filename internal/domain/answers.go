package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Answer is implemented by the per-type answer variants. Each variant reports the
// question type it answers so it can be checked against the QuestionSpec.
type Answer interface {
	QuestionType() QuestionType
}

// MCQAnswer selects one option by index.
type MCQAnswer struct {
	Index int `json:"index"`
}

// TrueFalseAnswer is a boolean choice.
type TrueFalseAnswer struct {
	Value bool `json:"value"`
}

// ShortAnswer is free text left for a grader.
type ShortAnswer struct {
	Text string `json:"text"`
}

// MatchingAnswer maps left labels to right labels. Left items may be left out.
type MatchingAnswer struct {
	Pairs map[string]string `json:"pairs"`
}

// OrderingAnswer is the submitted sequence of item labels.
type OrderingAnswer struct {
	Sequence []string `json:"sequence"`
}

// FillBlankAnswer holds one entry per gap, in gap order.
type FillBlankAnswer struct {
	Gaps []string `json:"gaps"`
}

func (MCQAnswer) QuestionType() QuestionType       { return TypeMCQ }
func (TrueFalseAnswer) QuestionType() QuestionType { return TypeTrueFalse }
func (ShortAnswer) QuestionType() QuestionType     { return TypeShortAnswer }
func (MatchingAnswer) QuestionType() QuestionType  { return TypeMatching }
func (OrderingAnswer) QuestionType() QuestionType  { return TypeOrdering }
func (FillBlankAnswer) QuestionType() QuestionType { return TypeFillBlank }

// Answers maps question IDs to the latest recorded answer.
type Answers map[string]Answer

type envelope struct {
	Type  QuestionType    `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EncodeAnswer renders an answer as {"type": ..., "value": ...}.
func EncodeAnswer(a Answer) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil answer", ErrInvalidAnswerPayload)
	}
	value, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: a.QuestionType(), Value: value})
}

// DecodeAnswer parses a tagged answer. Unknown fields, missing fields and
// mismatched shapes are rejected with ErrInvalidAnswerPayload.
func DecodeAnswer(data []byte) (Answer, error) {
	var env envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerPayload, err)
	}
	if len(env.Value) == 0 || bytes.Equal(env.Value, []byte("null")) {
		return nil, fmt.Errorf("%w: missing value", ErrInvalidAnswerPayload)
	}

	switch env.Type {
	case TypeMCQ:
		var v struct {
			Index *int `json:"index"`
		}
		if err := strictUnmarshal(env.Value, &v); err != nil || v.Index == nil {
			return nil, invalidValue(env.Type, err)
		}
		return MCQAnswer{Index: *v.Index}, nil
	case TypeTrueFalse:
		var v struct {
			Value *bool `json:"value"`
		}
		if err := strictUnmarshal(env.Value, &v); err != nil || v.Value == nil {
			return nil, invalidValue(env.Type, err)
		}
		return TrueFalseAnswer{Value: *v.Value}, nil
	case TypeShortAnswer:
		var v struct {
			Text *string `json:"text"`
		}
		if err := strictUnmarshal(env.Value, &v); err != nil || v.Text == nil {
			return nil, invalidValue(env.Type, err)
		}
		return ShortAnswer{Text: *v.Text}, nil
	case TypeMatching:
		var v struct {
			Pairs map[string]string `json:"pairs"`
		}
		if err := strictUnmarshal(env.Value, &v); err != nil || v.Pairs == nil {
			return nil, invalidValue(env.Type, err)
		}
		return MatchingAnswer{Pairs: v.Pairs}, nil
	case TypeOrdering:
		var v struct {
			Sequence []string `json:"sequence"`
		}
		if err := strictUnmarshal(env.Value, &v); err != nil || v.Sequence == nil {
			return nil, invalidValue(env.Type, err)
		}
		return OrderingAnswer{Sequence: v.Sequence}, nil
	case TypeFillBlank:
		var v struct {
			Gaps []string `json:"gaps"`
		}
		if err := strictUnmarshal(env.Value, &v); err != nil || v.Gaps == nil {
			return nil, invalidValue(env.Type, err)
		}
		return FillBlankAnswer{Gaps: v.Gaps}, nil
	default:
		return nil, fmt.Errorf("%w: unknown answer type %q", ErrInvalidAnswerPayload, env.Type)
	}
}

func invalidValue(t QuestionType, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s value is incomplete", ErrInvalidAnswerPayload, t)
	}
	return fmt.Errorf("%w: %s value: %v", ErrInvalidAnswerPayload, t, err)
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// MarshalJSON encodes every answer as a tagged envelope.
func (a Answers) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a))
	for questionID, answer := range a {
		raw, err := EncodeAnswer(answer)
		if err != nil {
			return nil, fmt.Errorf("encode answer %s: %w", questionID, err)
		}
		out[questionID] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes tagged envelopes written by MarshalJSON.
func (a *Answers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := make(Answers, len(raw))
	for questionID, msg := range raw {
		answer, err := DecodeAnswer(msg)
		if err != nil {
			return fmt.Errorf("decode answer %s: %w", questionID, err)
		}
		decoded[questionID] = answer
	}
	*a = decoded
	return nil
}

type questionWire struct {
	ID     string          `json:"id"`
	Type   QuestionType    `json:"type"`
	Prompt string          `json:"prompt"`
	Points decimal.Decimal `json:"points"`
	Key    json.RawMessage `json:"key,omitempty"`
}

// MarshalJSON writes the key next to its type tag.
func (q QuestionSpec) MarshalJSON() ([]byte, error) {
	w := questionWire{ID: q.ID, Type: q.Type, Prompt: q.Prompt, Points: q.Points}
	if q.Key != nil {
		key, err := json.Marshal(q.Key)
		if err != nil {
			return nil, err
		}
		w.Key = key
	}
	return json.Marshal(w)
}

// UnmarshalJSON picks the key variant from the type tag.
func (q *QuestionSpec) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var key AnswerKey
	switch w.Type {
	case TypeMCQ:
		var k MCQKey
		if err := unmarshalKey(w.Key, &k); err != nil {
			return err
		}
		key = k
	case TypeTrueFalse:
		var k TrueFalseKey
		if err := unmarshalKey(w.Key, &k); err != nil {
			return err
		}
		key = k
	case TypeShortAnswer:
		key = ShortAnswerKey{}
	case TypeMatching:
		var k MatchingKey
		if err := unmarshalKey(w.Key, &k); err != nil {
			return err
		}
		key = k
	case TypeOrdering:
		var k OrderingKey
		if err := unmarshalKey(w.Key, &k); err != nil {
			return err
		}
		key = k
	case TypeFillBlank:
		var k FillBlankKey
		if err := unmarshalKey(w.Key, &k); err != nil {
			return err
		}
		key = k
	default:
		return fmt.Errorf("%w: question %s has unknown type %q", ErrInvalidQuiz, w.ID, w.Type)
	}

	*q = QuestionSpec{ID: w.ID, Type: w.Type, Prompt: w.Prompt, Points: w.Points, Key: key}
	return nil
}

func unmarshalKey(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing answer key", ErrInvalidQuiz)
	}
	return json.Unmarshal(raw, v)
}
