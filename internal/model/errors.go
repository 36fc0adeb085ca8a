package model

import (
	"errors"
	"fmt"
)

// Категории ошибок. Каждая конкретная ошибка оборачивает ровно одну категорию.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("not authorized")
	ErrTransient         = errors.New("transient store failure")
)

var (
	// ErrInvalidHandle возвращается, если логин не соответствует формату.
	ErrInvalidHandle = fmt.Errorf("%w: handle must be 3-20 chars of letters, digits, '.', '_' or '-'", ErrInvalidInput)
	// ErrInvalidAmount возвращается при неположительной сумме.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be a positive integer", ErrInvalidInput)
	// ErrEmptyReason возвращается, если не указана причина операции.
	ErrEmptyReason = fmt.Errorf("%w: reason is required", ErrInvalidInput)
	// ErrEmptyAnnouncement возвращается, если у объявления нет заголовка или текста.
	ErrEmptyAnnouncement = fmt.Errorf("%w: title and body are required", ErrInvalidInput)
	// ErrInvalidDecision возвращается при неизвестном решении по заявке.
	ErrInvalidDecision = fmt.Errorf("%w: decision must be approve or reject", ErrInvalidInput)
	// ErrEmptySecret возвращается при пустом пароле.
	ErrEmptySecret = fmt.Errorf("%w: password is required", ErrInvalidInput)

	ErrMemberNotFound  = fmt.Errorf("%w: member", ErrNotFound)
	ErrRequestNotFound = fmt.Errorf("%w: spend request", ErrNotFound)
	ErrOfficerNotFound = fmt.Errorf("%w: officer", ErrNotFound)

	// ErrAccountDisabled возвращается при операциях над отключённым участником.
	ErrAccountDisabled = fmt.Errorf("%w: account is disabled", ErrInvalidState)
	// ErrAlreadyHandled возвращается при повторной обработке заявки.
	ErrAlreadyHandled = fmt.Errorf("%w: request already handled", ErrInvalidState)
	// ErrHandleTaken возвращается, если логин уже занят.
	ErrHandleTaken = fmt.Errorf("%w: handle already taken", ErrInvalidState)

	// ErrWouldGoNegative возвращается, если корректировка увела бы баланс в минус.
	ErrWouldGoNegative = fmt.Errorf("%w: balance would go negative", ErrInsufficientFunds)
	// ErrInsufficientBalance возвращается, если баланса не хватает для траты.
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrInsufficientFunds)

	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
)
