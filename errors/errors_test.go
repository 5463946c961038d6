package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAssociationError(t *testing.T) {
	err := NewAssociationError(
		RejectSourceServiceUser,
		RejectReasonCalledAETitleNotRecognized,
		"AE title mismatch",
	)

	if err.Source != RejectSourceServiceUser {
		t.Errorf("Source = %v, want %v", err.Source, RejectSourceServiceUser)
	}

	if err.Reason != RejectReasonCalledAETitleNotRecognized {
		t.Errorf("Reason = %v, want %v", err.Reason, RejectReasonCalledAETitleNotRecognized)
	}

	if !err.Permanent() {
		t.Error("NewAssociationError should default to a permanent rejection")
	}

	wrapped := fmt.Errorf("connect: %w", err)
	if !errors.Is(wrapped, ErrAssociationRejected) {
		t.Error("AssociationError should match ErrAssociationRejected")
	}

	want := "association rejected: AE title mismatch (source: service-user, reason: called-ae-title-not-recognized)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAssociationErrorProviderReasons(t *testing.T) {
	tests := []struct {
		source AssociationRejectSource
		reason AssociationRejectReason
		want   string
	}{
		{RejectSourceServiceProviderACSE, RejectReasonProtocolVersionNotSupported, "protocol-version-not-supported"},
		{RejectSourceServiceProviderPresentation, RejectReasonTemporaryCongestion, "temporary-congestion"},
		{RejectSourceServiceProviderPresentation, RejectReasonLocalLimitExceeded, "local-limit-exceeded"},
		{RejectSourceServiceUser, RejectReasonApplicationContextNotSupported, "application-context-not-supported"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.reason.describe(tt.source); got != tt.want {
				t.Errorf("describe(%v) = %q, want %q", tt.source, got, tt.want)
			}
		})
	}
}

func TestDIMSEError(t *testing.T) {
	tests := []struct {
		name      string
		status    uint16
		isSuccess bool
		isPending bool
		isWarning bool
		isFailure bool
	}{
		{"Success", 0x0000, true, false, false, false},
		{"Pending", 0xFF00, false, true, false, false},
		{"Coercion warning", 0xB000, false, false, true, false},
		{"Elements discarded", 0xB006, false, false, true, false},
		{"Attribute list warning", 0x0107, false, false, true, false},
		{"Out of resources", 0xA700, false, false, false, true},
		{"Out of resources family", 0xA7FF, false, false, false, true},
		{"Cannot understand", 0xC000, false, false, false, true},
		{"Processing failure", 0x0110, false, false, false, true},
		{"Resource limitation", 0x0213, false, false, false, true},
		{"Unknown", 0x1234, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDIMSEError("C-STORE", tt.status, "test error")

			if err.IsSuccess() != tt.isSuccess {
				t.Errorf("IsSuccess() = %v, want %v", err.IsSuccess(), tt.isSuccess)
			}
			if err.IsPending() != tt.isPending {
				t.Errorf("IsPending() = %v, want %v", err.IsPending(), tt.isPending)
			}
			if err.IsWarning() != tt.isWarning {
				t.Errorf("IsWarning() = %v, want %v", err.IsWarning(), tt.isWarning)
			}
			if err.IsFailure() != tt.isFailure {
				t.Errorf("IsFailure() = %v, want %v", err.IsFailure(), tt.isFailure)
			}
		})
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("response", "10s")

	if err.Operation != "response" {
		t.Errorf("Operation = %v, want response", err.Operation)
	}

	if !err.Timeout() {
		t.Error("Timeout() should return true")
	}

	if err.Error() != "timeout: response exceeded 10s" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNetworkError(t *testing.T) {
	innerErr := errors.New("connection refused")
	err := NewNetworkError("dial", innerErr)

	if err.Op != "dial" {
		t.Errorf("Op = %v, want dial", err.Op)
	}

	if !errors.Is(err, innerErr) {
		t.Error("Should unwrap to inner error")
	}
}

func TestPDUError(t *testing.T) {
	err := NewPDUError(0x04, "invalid PDU length")

	if err.PDUType != 0x04 {
		t.Errorf("PDUType = 0x%02X, want 0x04", err.PDUType)
	}

	if !errors.Is(err, ErrInvalidPDU) {
		t.Error("PDUError should match ErrInvalidPDU")
	}
}

func TestAbortError(t *testing.T) {
	err := NewAbortError(0x02, 0x01)

	if err.Source != 0x02 {
		t.Errorf("Source = 0x%02X, want 0x02", err.Source)
	}

	if err.Reason != 0x01 {
		t.Errorf("Reason = 0x%02X, want 0x01", err.Reason)
	}

	if !errors.Is(err, ErrAssociationAborted) {
		t.Error("AbortError should match ErrAssociationAborted")
	}

	var target *AbortError
	if !errors.As(fmt.Errorf("read: %w", err), &target) {
		t.Error("errors.As should find the AbortError through wrapping")
	}
}

func TestAssociationRejectReasonString(t *testing.T) {
	tests := []struct {
		reason   AssociationRejectReason
		expected string
	}{
		{RejectReasonNoReasonGiven, "no-reason-given"},
		{RejectReasonApplicationContextNotSupported, "application-context-not-supported"},
		{RejectReasonCallingAETitleNotRecognized, "calling-ae-title-not-recognized"},
		{RejectReasonCalledAETitleNotRecognized, "called-ae-title-not-recognized"},
		{AssociationRejectReason(0xFF), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.reason.String(); got != tt.expected {
				t.Errorf("String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAssociationRejectSourceString(t *testing.T) {
	tests := []struct {
		source   AssociationRejectSource
		expected string
	}{
		{RejectSourceServiceUser, "service-user"},
		{RejectSourceServiceProviderACSE, "service-provider (ACSE)"},
		{RejectSourceServiceProviderPresentation, "service-provider (presentation)"},
		{AssociationRejectSource(0xFF), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.source.String(); got != tt.expected {
				t.Errorf("String() = %v, want %v", got, tt.expected)
			}
		})
	}
}
