package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Chat generation modes. Code modes wrap the user message with a language
// directive and trigger code-block saving on the finished answer.
const (
	ModeChat   = "chat"
	ModeC      = "c"
	ModePython = "python"
	ModeJava   = "java"
)

type Validater interface {
	Validate() map[string]string
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

type ChatParams struct {
	Message   string `json:"message" validate:"required"`
	Mode      string `json:"mode" validate:"omitempty,oneof=chat c python java"`
	UseRAG    *bool  `json:"use_rag"`
	TopK      int    `json:"top_k" validate:"omitempty,min=1"`
	RAGStrict bool   `json:"rag_strict"`
}

// Normalize fills request-level defaults: mode "chat", use_rag true, top_k 6.
func (params *ChatParams) Normalize() {
	if params.Mode == "" {
		params.Mode = ModeChat
	}
	if params.UseRAG == nil {
		t := true
		params.UseRAG = &t
	}
	if params.TopK <= 0 {
		params.TopK = 6
	}
}

func (params *ChatParams) Validate() map[string]string {
	return validateStruct(params)
}

type ProfileParams struct {
	Memory string `json:"memory"`
}

func (params *ProfileParams) Validate() map[string]string {
	return validateStruct(params)
}

type PrefsParams struct {
	Language   string `json:"language"`
	Tone       string `json:"tone"`
	FormatHint string `json:"format_hint"`
	CiteStyle  string `json:"cite_style"`
}

func (params *PrefsParams) Validate() map[string]string {
	return validateStruct(params)
}

func validateStruct(v any) map[string]string {
	validate := validator.New()
	if err := validate.Struct(v); err != nil {
		errs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
