package analyzer

import "context"

type fakeService struct {
}

// NewFake returns an analyzer that always reports a safe scene. Useful
// for running the pipeline without any backend configured.
func NewFake() IService {
	return &fakeService{}
}

func (svc *fakeService) Name() string {
	return "fake"
}

func (svc *fakeService) Analyze(_ context.Context, _ []byte, _ string) (string, error) {
	return `{"is_danger": false, "alert_type": "safe", "alert_message": "no threat observed", "reasoning": "fake analyzer", "confidence": 1.0}`, nil
}
