package password

import (
	"errors"
	"fmt"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// ErrPolicy is matched by every [*PolicyError].
var ErrPolicy = errors.New("password does not satisfy policy")

// PolicyError describes a single policy violation.
type PolicyError struct {
	Code    string
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}

func (e *PolicyError) Unwrap() error {
	return ErrPolicy
}

// Policy validates new passwords before they are hashed.
type Policy struct {
	MinLength int
	MaxLength int
	// MinScore is the minimum zxcvbn score (0-4). Zero disables the check.
	MinScore int
}

// Validate returns a [*PolicyError] for the first violated rule. userInputs
// (username, email) are penalised by the strength estimator.
func (p Policy) Validate(password string, userInputs ...string) error {
	length := len([]rune(password))
	if p.MinLength > 0 && length < p.MinLength {
		return &PolicyError{
			Code:    "min_length",
			Message: fmt.Sprintf("password must be at least %d characters long", p.MinLength),
		}
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		return &PolicyError{
			Code:    "max_length",
			Message: fmt.Sprintf("password must be at most %d bytes long", p.MaxLength),
		}
	}

	minScore := p.MinScore
	if minScore <= 0 {
		return nil
	}
	if minScore > 4 {
		minScore = 4
	}
	if zxcvbn.PasswordStrength(password, userInputs).Score < minScore {
		return &PolicyError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	}
	return nil
}
