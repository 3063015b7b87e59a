package server

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/model"
)

var correctAnswersPattern = regexp.MustCompile(`^[A-D](,[A-D]){0,3}$`)

var registerOnce sync.Once

// registerValidators adds the request tags used by this package to gin's validator
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			log.Warn().Msg("gin validator engine is not go-playground, custom tags unavailable")
			return
		}

		tags := map[string]validator.Func{
			"notblank": validators.NotBlank,
			"answers":  validAnswers,
			"examtype": validExamType,
		}
		for tag, fn := range tags {
			if err := v.RegisterValidation(tag, fn); err != nil {
				log.Error().Err(err).Str("tag", tag).Msg("Failed to register validator")
			}
		}
	})
}

// normalizeAnswers upper-cases an answer list and drops spaces
func normalizeAnswers(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
}

func validAnswers(fl validator.FieldLevel) bool {
	return correctAnswersPattern.MatchString(normalizeAnswers(fl.Field().String()))
}

// validExamType accepts blank values; pair it with required where one is needed
func validExamType(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) == "" {
		return true
	}
	_, ok := model.ParseExamType(s)
	return ok
}

// bindMessage maps a binding failure to the message for the first bad field
func bindMessage(err error, byField map[string]string, fallback string) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if msg, ok := byField[verrs[0].Field()]; ok {
			return msg
		}
	}
	return fallback
}
