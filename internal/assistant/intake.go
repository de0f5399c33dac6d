package assistant

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/movehive/voicedesk/internal/repository"
)

type intakeStep int

const (
	stepName intakeStep = iota
	stepEmail
	stepPhone
	stepPhoneType
	stepFromAddress
	stepBuildingType
	stepBedrooms
	stepToAddress
	stepMoveDate
	stepFlexibleDate
	stepAssistCar
	stepCarYear
	stepCarMake
	stepCarModel
	stepDone
)

// intakeState collects one moving request field by field, in the order the
// call script asks them.
type intakeState struct {
	step    intakeStep
	request repository.MovingRequest
}

func newIntakeState() *intakeState {
	return &intakeState{step: stepName}
}

// consume records the customer's answer for the current field and returns
// the next question. The second return is true once every field is filled.
func (s *intakeState) consume(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if s.step == stepDone {
		// a completed script whose save failed; any utterance retries it
		return "", true
	}
	if answer == "" {
		return s.currentQuestion(), false
	}

	switch s.step {
	case stepName:
		s.request.CustomerName = answer
	case stepEmail:
		s.request.Email = answer
	case stepPhone:
		s.request.PhoneNumber = answer
	case stepPhoneType:
		s.request.PhoneType = normalizePhoneType(answer)
	case stepFromAddress:
		s.request.FromAddress = answer
	case stepBuildingType:
		s.request.FromBuildingType = normalizeBuildingType(answer)
	case stepBedrooms:
		n, err := strconv.Atoi(firstNumber(answer))
		if err != nil || n <= 0 {
			return "Sorry, how many bedrooms is that? Please give me a number.", false
		}
		s.request.FromBedrooms = n
	case stepToAddress:
		s.request.ToAddress = answer
	case stepMoveDate:
		s.request.MoveDate = answer
	case stepFlexibleDate:
		s.request.FlexibleDate = isAffirmative(answer)
	case stepAssistCar:
		s.request.AssistCar = isAffirmative(answer)
		if !s.request.AssistCar {
			s.step = stepDone
			return "", true
		}
	case stepCarYear:
		v := answer
		s.request.CarYear = &v
	case stepCarMake:
		v := answer
		s.request.CarMake = &v
	case stepCarModel:
		v := answer
		s.request.CarModel = &v
		s.step = stepDone
		return "", true
	}

	s.step++
	if s.step == stepDone {
		return "", true
	}
	return s.currentQuestion(), false
}

func (s *intakeState) currentQuestion() string {
	switch s.step {
	case stepCarYear:
		return askCarYear
	case stepCarMake:
		return askCarMake
	case stepCarModel:
		return askCarModel
	default:
		idx := int(s.step) - 1
		if idx >= 0 && idx < len(intakeQuestions) {
			return intakeQuestions[idx]
		}
		return WelcomeMessage
	}
}

func normalizePhoneType(answer string) string {
	lower := strings.ToLower(answer)
	for _, t := range []string{"cell", "home", "work"} {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return "cell"
}

func normalizeBuildingType(answer string) string {
	if strings.Contains(strings.ToLower(answer), "apart") {
		return "apartment"
	}
	return "house"
}

func isAffirmative(answer string) bool {
	lower := strings.ToLower(strings.TrimSpace(answer))
	for _, w := range []string{"yes", "yeah", "yep", "sure", "correct", "it is"} {
		if strings.HasPrefix(lower, w) {
			return true
		}
	}
	return false
}

func firstNumber(answer string) string {
	for _, field := range strings.Fields(answer) {
		trimmed := strings.Trim(field, ".,!?")
		if _, err := strconv.Atoi(trimmed); err == nil {
			return trimmed
		}
	}
	return answer
}

// FormatMovingRequest renders the fixed field layout the call script
// promises customers.
func FormatMovingRequest(req *repository.MovingRequest) string {
	var b strings.Builder
	b.WriteString("Here are your moving request details:\n")
	fmt.Fprintf(&b, "Request ID: %s\n", req.RequestID)
	fmt.Fprintf(&b, "Customer Name: %s\n", req.CustomerName)
	fmt.Fprintf(&b, "Email: %s\n", req.Email)
	fmt.Fprintf(&b, "Phone number: %s\n", req.PhoneNumber)
	fmt.Fprintf(&b, "From Address: %s\n", req.FromAddress)
	fmt.Fprintf(&b, "Number of Bedrooms: %d\n", req.FromBedrooms)
	fmt.Fprintf(&b, "To Address: %s\n", req.ToAddress)
	fmt.Fprintf(&b, "Move Date: %s\n", req.MoveDate)
	fmt.Fprintf(&b, "Flexible Date: %s\n", yesNo(req.FlexibleDate))
	fmt.Fprintf(&b, "Car Transport: %s\n", yesNo(req.AssistCar))
	if req.AssistCar && req.CarYear != nil && req.CarMake != nil && req.CarModel != nil {
		fmt.Fprintf(&b, "Car Details: %s %s %s\n", *req.CarYear, *req.CarMake, *req.CarModel)
	}
	b.WriteString("\nWould you like to make any changes to these details?")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
