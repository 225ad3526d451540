package flowdebug

// UserRegistrationFlow is the sample flow registered when no flow files
// are configured.
func UserRegistrationFlow() *BusinessFlow {
	return &BusinessFlow{
		Name:        "user_registration",
		Description: "Register a new user: validate input, check the email is free, create the record and notify",
		StartStep:   "validate_data",
		Steps: []FlowStep{
			{
				ID:        "validate_data",
				Name:      "Validate user data",
				Type:      StepValidation,
				Inputs:    map[string]any{"fields": []any{"username", "email", "password"}},
				NextSteps: []string{"check_email"},
			},
			{
				ID:        "check_email",
				Name:      "Check email uniqueness",
				Type:      StepValidation,
				NextSteps: []string{"create_record"},
			},
			{
				ID:        "create_record",
				Name:      "Create user record",
				Type:      StepAction,
				NextSteps: []string{"send_notification"},
			},
			{
				ID:   "send_notification",
				Name: "Send welcome notification",
				Type: StepAction,
			},
		},
	}
}
