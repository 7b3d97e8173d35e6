// Package templates registers the Handlebars helpers available to scenario
// authors inside prompt text and suite variables.
package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	numericChars      = "0123456789"
	hexChars          = "0123456789abcdef"
)

type TemplateEngine struct{}

var (
	templateEngineInstance *TemplateEngine
	templateEngineOnce     sync.Once
)

// NewTemplateEngine returns the singleton instance of TemplateEngine.
// Helpers are registered once, process-wide; raymond keeps global state.
func NewTemplateEngine() *TemplateEngine {
	templateEngineOnce.Do(func() {
		RegisterHelpers()
		templateEngineInstance = &TemplateEngine{}
	})
	return templateEngineInstance
}

// Render applies the registered helpers to a scenario template string.
func (t *TemplateEngine) Render(source string, vars map[string]any) (string, error) {
	return raymond.Render(source, vars)
}

// RegisterHelpers registers the custom Handlebars helpers
func RegisterHelpers() {
	// randomValue generates throwaway identifiers for scenario prompts
	raymond.RegisterHelper("randomValue", func(options *raymond.Options) string {
		randomType := strings.ToUpper(options.HashStr("type"))
		if randomType == "" {
			randomType = "ALPHANUMERIC"
		}

		if randomType == "UUID" {
			return uuid.New().String()
		}

		length := 10
		if lengthVal := options.HashProp("length"); lengthVal != nil {
			length = toInt(lengthVal)
		}

		switch randomType {
		case "NUMERIC":
			return generateRandomString(numericChars, length)
		case "HEXADECIMAL":
			return generateRandomString(hexChars, length)
		default:
			return generateRandomString(alphanumericChars, length)
		}
	})

	// randomAmount produces a token amount inside [lower, upper] with the
	// given number of decimal places, for transfer prompts that should not
	// repeat across runs
	raymond.RegisterHelper("randomAmount", func(options *raymond.Options) string {
		lower := 0.1
		upper := 10.0
		decimals := 4

		if v := options.HashProp("lower"); v != nil {
			lower = toFloat(v)
		}
		if v := options.HashProp("upper"); v != nil {
			upper = toFloat(v)
		}
		if v := options.HashProp("decimals"); v != nil {
			decimals = toInt(v)
		}
		if lower > upper {
			lower, upper = upper, lower
		}

		randomBytes := make([]byte, 8)
		if _, err := rand.Read(randomBytes); err != nil {
			return strconv.FormatFloat(lower, 'f', decimals, 64)
		}
		var r uint64
		for i := 0; i < 8; i++ {
			r = (r << 8) | uint64(randomBytes[i])
		}
		normalized := float64(r) / float64(^uint64(0))
		result := lower + normalized*(upper-lower)
		return strconv.FormatFloat(result, 'f', decimals, 64)
	})

	// randomInt generates an integer in [lower, upper]
	raymond.RegisterHelper("randomInt", func(options *raymond.Options) string {
		lower := 0
		upper := 100

		if v := options.HashProp("lower"); v != nil {
			lower = toInt(v)
		}
		if v := options.HashProp("upper"); v != nil {
			upper = toInt(v)
		}
		if lower > upper {
			lower, upper = upper, lower
		}

		num, err := rand.Int(rand.Reader, big.NewInt(int64(upper-lower+1)))
		if err != nil {
			return "0"
		}
		return fmt.Sprintf("%d", int(num.Int64())+lower)
	})

	// now renders the current time, with optional offset and format
	raymond.RegisterHelper("now", func(options *raymond.Options) string {
		t := time.Now().UTC()

		if offsetStr := options.HashStr("offset"); offsetStr != "" {
			if offset, err := ParseOffset(offsetStr); err == nil {
				t = t.Add(offset)
			}
		}

		switch options.HashStr("format") {
		case "epoch":
			return fmt.Sprintf("%d", t.UnixMilli())
		case "unix":
			return fmt.Sprintf("%d", t.Unix())
		case "date":
			return t.Format("2006-01-02")
		default:
			return t.Format(time.RFC3339)
		}
	})

	// faker produces realistic persona data for social-engineering and
	// phishing scenario prompts
	raymond.RegisterHelper("faker", func(key string) string {
		r := gofakeit.New(0)

		switch key {
		case "Name.first_name":
			return r.FirstName()
		case "Name.full_name":
			return r.Name()
		case "Internet.email":
			return r.Email()
		case "Internet.username":
			return r.Username()
		case "Internet.url":
			return r.URL()
		case "Company.name":
			return r.Company()
		case "Lorem.sentence":
			return r.Sentence(5)
		case "Misc.uuid":
			return r.UUID()
		}
		return ""
	})

	// fakeAddress yields a syntactically plausible but unfunded SS58-looking
	// address for scam and wrong-recipient scenarios
	raymond.RegisterHelper("fakeAddress", func() string {
		return "5" + generateRandomString(alphanumericChars, 47)
	})
}

// generateRandomString generates a cryptographically secure random string
func generateRandomString(charset string, length int) string {
	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return ""
		}
		result[i] = charset[num.Int64()]
	}

	return string(result)
}

func toInt(val interface{}) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var result int
		fmt.Sscanf(v, "%d", &result)
		return result
	default:
		return 0
	}
}

func toFloat(val interface{}) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		var result float64
		fmt.Sscanf(v, "%f", &result)
		return result
	default:
		return 0.0
	}
}

// ParseOffset parses offset strings like "3 days", "-24 seconds", "1 hour"
func ParseOffset(offset string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(offset))
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid offset format")
	}

	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}

	unit := strings.TrimSuffix(strings.ToLower(parts[1]), "s")
	switch unit {
	case "second":
		return time.Duration(value) * time.Second, nil
	case "minute":
		return time.Duration(value) * time.Minute, nil
	case "hour":
		return time.Duration(value) * time.Hour, nil
	case "day":
		return time.Duration(value) * 24 * time.Hour, nil
	case "week":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
}
