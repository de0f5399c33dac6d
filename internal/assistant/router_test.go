package assistant

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/movehive/voicedesk/internal/repository"
)

type fakeIntakeRepo struct {
	created   []repository.MovingRequest
	createErr error
	byID      map[string]*repository.MovingRequest
	getErr    error
}

func (f *fakeIntakeRepo) CreateMovingRequest(_ context.Context, req repository.MovingRequest) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, req)
	return nil
}

func (f *fakeIntakeRepo) GetMovingRequest(_ context.Context, requestID string) (*repository.MovingRequest, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.byID[requestID], nil
}

func storedRequest() *repository.MovingRequest {
	return &repository.MovingRequest{
		RequestID:        "123456",
		CustomerName:     "John Smith",
		Email:            "john@example.com",
		PhoneNumber:      "555-1234",
		PhoneType:        "cell",
		FromAddress:      "123 Main St",
		FromBuildingType: "house",
		FromBedrooms:     3,
		ToAddress:        "456 Oak Ave",
		MoveDate:         "2026-03-15",
		FlexibleDate:     true,
		AssistCar:        false,
	}
}

func TestRoute_LookupWithRequestID(t *testing.T) {
	repo := &fakeIntakeRepo{byID: map[string]*repository.MovingRequest{"123456": storedRequest()}}
	router := NewRouter(repo)

	reply, ok := router.Route(context.Background(), "s-1", "Can you look up my details? My ID is 123456.")
	if !ok {
		t.Fatal("expected a reply")
	}
	if !strings.Contains(reply, "Request ID: 123456") || !strings.Contains(reply, "Customer Name: John Smith") {
		t.Fatalf("unexpected lookup reply: %s", reply)
	}
}

func TestRoute_LookupWithoutRequestIDPromptsForIt(t *testing.T) {
	repo := &fakeIntakeRepo{byID: map[string]*repository.MovingRequest{}}
	router := NewRouter(repo)

	reply, ok := router.Route(context.Background(), "s-1", "I'd like to check my booking please")
	if !ok || !strings.Contains(reply, "6-digit request ID") {
		t.Fatalf("expected prompt for request id, got %q", reply)
	}
}

func TestRoute_LookupUnknownID(t *testing.T) {
	repo := &fakeIntakeRepo{byID: map[string]*repository.MovingRequest{}}
	router := NewRouter(repo)

	reply, ok := router.Route(context.Background(), "s-1", "look up 999999")
	if !ok || !strings.Contains(reply, "not found") {
		t.Fatalf("expected not-found reply, got %q", reply)
	}
}

func TestRoute_LookupStoreError(t *testing.T) {
	repo := &fakeIntakeRepo{getErr: errors.New("store down")}
	router := NewRouter(repo)

	reply, ok := router.Route(context.Background(), "s-1", "look up 123456")
	if !ok || !strings.Contains(reply, "try again") {
		t.Fatalf("expected apology reply, got %q", reply)
	}
}

func TestRoute_IntakeFullScriptWithoutCar(t *testing.T) {
	repo := &fakeIntakeRepo{}
	router := NewRouter(repo)
	ctx := context.Background()

	answers := []string{
		"John Smith",
		"john@example.com",
		"555-1234",
		"cell phone",
		"123 Main St",
		"it's a house",
		"3 bedrooms",
		"456 Oak Ave",
		"March 15th",
		"yes",
	}
	var last string
	for i, answer := range answers {
		reply, ok := router.Route(ctx, "s-1", answer)
		if !ok {
			t.Fatalf("step %d: expected a reply", i)
		}
		last = reply
	}
	// final slot: no car transport completes the script
	reply, ok := router.Route(ctx, "s-1", "no thanks")
	if !ok {
		t.Fatal("expected completion reply")
	}
	last = reply

	if len(repo.created) != 1 {
		t.Fatalf("expected one created request, got %d", len(repo.created))
	}
	req := repo.created[0]
	if req.CustomerName != "John Smith" || req.FromBedrooms != 3 || req.AssistCar {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.PhoneType != "cell" || req.FromBuildingType != "house" || !req.FlexibleDate {
		t.Fatalf("unexpected normalized fields: %+v", req)
	}
	if !regexp.MustCompile(`\b\d{6}\b`).MatchString(last) {
		t.Fatalf("expected request id in completion reply, got %q", last)
	}
}

func TestRoute_IntakeCollectsCarDetails(t *testing.T) {
	repo := &fakeIntakeRepo{}
	router := NewRouter(repo)
	ctx := context.Background()

	answers := []string{
		"Jane Doe", "jane@example.com", "555-9876", "work",
		"9 Elm Rd", "apartment", "2", "77 Pine Ln", "April 2nd", "no",
		"yes", "2019", "Toyota", "Corolla",
	}
	for _, answer := range answers {
		router.Route(ctx, "s-2", answer)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one created request, got %d", len(repo.created))
	}
	req := repo.created[0]
	if !req.AssistCar || req.CarYear == nil || *req.CarMake != "Toyota" || *req.CarModel != "Corolla" {
		t.Fatalf("unexpected car details: %+v", req)
	}
	if req.FromBuildingType != "apartment" || req.FlexibleDate {
		t.Fatalf("unexpected normalized fields: %+v", req)
	}
}

func TestRoute_IntakeRetriesAfterSaveFailure(t *testing.T) {
	repo := &fakeIntakeRepo{createErr: errors.New("store down")}
	router := NewRouter(repo)
	ctx := context.Background()

	answers := []string{
		"John Smith", "john@example.com", "555-1234", "cell",
		"123 Main St", "house", "3", "456 Oak Ave", "March 15th", "yes",
	}
	for _, answer := range answers {
		router.Route(ctx, "s-3", answer)
	}
	reply, _ := router.Route(ctx, "s-3", "no")
	if !strings.Contains(reply, "try again") {
		t.Fatalf("expected save-failure reply, got %q", reply)
	}

	repo.createErr = nil
	reply, ok := router.Route(ctx, "s-3", "okay")
	if !ok || len(repo.created) != 1 {
		t.Fatalf("expected retry to save the request, got ok=%v created=%d", ok, len(repo.created))
	}
	if !strings.Contains(reply, "Your request ID is") {
		t.Fatalf("unexpected retry reply: %q", reply)
	}
}

func TestRoute_EmptyTextSaysNothing(t *testing.T) {
	router := NewRouter(&fakeIntakeRepo{})
	if _, ok := router.Route(context.Background(), "s-1", "   "); ok {
		t.Fatal("expected no reply for blank input")
	}
}

func TestGenerateRequestID_SixDigits(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		id := GenerateRequestID()
		if !regexp.MustCompile(`^\d{6}$`).MatchString(id) {
			t.Fatalf("unexpected request id shape: %q", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatal("expected request ids to vary")
	}
}

func TestFormatMovingRequest_IncludesCarOnlyWhenPresent(t *testing.T) {
	req := storedRequest()
	out := FormatMovingRequest(req)
	if strings.Contains(out, "Car Details:") {
		t.Fatalf("expected no car details, got %q", out)
	}

	year, carMake, carModel := "2019", "Toyota", "Corolla"
	req.AssistCar = true
	req.CarYear, req.CarMake, req.CarModel = &year, &carMake, &carModel
	out = FormatMovingRequest(req)
	if !strings.Contains(out, "Car Details: 2019 Toyota Corolla") {
		t.Fatalf("expected car details, got %q", out)
	}
}
