package main

import "cratetrail/internal/ledger"

// Exit codes let scripts branch on the failure class without parsing text.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitNotFound  = 3
	exitConflict  = 4
	exitForbidden = 5
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch ledger.KindOf(err) {
	case ledger.KindValidation:
		return exitUsage
	case ledger.KindNotFound:
		return exitNotFound
	case ledger.KindConflict, ledger.KindAlreadyAssigned, ledger.KindInvalidState,
		ledger.KindInvalidTransition, ledger.KindCompletenessRequired:
		return exitConflict
	case ledger.KindForbidden:
		return exitForbidden
	default:
		return exitFailure
	}
}
