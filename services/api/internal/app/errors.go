package app

import "errors"

var (
	// ErrInvalidCredentials is the generic sign-in failure. The message is
	// shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	// ErrEmailNotConfirmed is returned for accounts that have not confirmed
	// their email address yet.
	ErrEmailNotConfirmed = errors.New("Please confirm your email address before signing in")

	// ErrRateLimited is returned when sign-in attempts exceed the quota.
	ErrRateLimited = errors.New("Too many sign-in attempts. Please wait a moment and try again")

	// ErrAccountDisabled is returned for disabled accounts with a valid
	// password.
	ErrAccountDisabled = errors.New("This account has been disabled")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrAnswersRequired          = errors.New("questionnaire answers required")
	ErrItemTextRequired         = errors.New("item text required")
	ErrMaterialFieldsRequired   = errors.New("material title and url required")
	ErrObjectStorageDisabled    = errors.New("object storage is not configured")
	ErrSettingKeyRequired       = errors.New("setting key required")
	ErrNewsTitleRequired        = errors.New("news title required")

	ErrProfileNotFound  = errors.New("profile not found")
	ErrMaterialNotFound = errors.New("material not found")
	ErrItemNotFound     = errors.New("shopping list item not found")
	ErrNoAdminProfile   = errors.New("no admin profile configured")
	ErrForbidden        = errors.New("forbidden")
)
