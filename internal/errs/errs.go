package errs

import "errors"

var ErrCustomerNotFound = errors.New("customer not found")
var ErrOrderNotFound = errors.New("order not found")
var ErrPaymentNotFound = errors.New("payment not found")
var ErrInvoiceNotFound = errors.New("invoice not found")
var ErrInsufficientFunds = errors.New("not enough balance")
var ErrLoginAlreadyExists = errors.New("login already exists")
var ErrInvalidToken = errors.New("invalid token")
var ErrPaymentGateway = errors.New("payment gateway unavailable")
var ErrBadSignature = errors.New("invalid webhook signature")
var ErrDuplicatePayment = errors.New("payment already recorded for this session")
var ErrInvariantViolation = errors.New("invariant violation")
var ErrOrderNotDeletable = errors.New("order can only be deleted while payment is pending")
var ErrOrderAlreadyPaid = errors.New("order already paid")

// ValidationError carries a user-facing message for bad input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func Validation(msg string) error {
	return &ValidationError{Msg: msg}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
