package pdu

import (
	"encoding/binary"
	"fmt"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/types"
)

// Item types used in association negotiation
const (
	itemApplicationContext  = 0x10
	itemPresentationContext = 0x20
	itemPresentationResult  = 0x21
	itemAbstractSyntax      = 0x30
	itemTransferSyntax      = 0x40
	itemUserInformation     = 0x50
	subItemMaxLength        = 0x51
	subItemImplClassUID     = 0x52
	subItemAsyncOpsWindow   = 0x53
	subItemImplVersionName  = 0x55
	subItemUserIdentityRQ   = 0x58
	subItemUserIdentityAC   = 0x59
)

// fixedFieldsLength covers protocol version, AE titles and reserved bytes.
const fixedFieldsLength = 68

// MaxPresentationContexts is the number of odd context IDs in 1..255.
const MaxPresentationContexts = 128

// Presentation context results (PS3.8 Section 9.3.3.2)
const (
	ResultAcceptance                   byte = 0x00
	ResultUserRejection                byte = 0x01
	ResultNoReason                     byte = 0x02
	ResultAbstractSyntaxNotSupported   byte = 0x03
	ResultTransferSyntaxesNotSupported byte = 0x04
)

// ResultString describes a presentation context result.
func ResultString(result byte) string {
	switch result {
	case ResultAcceptance:
		return "acceptance"
	case ResultUserRejection:
		return "user-rejection"
	case ResultNoReason:
		return "no-reason (provider rejection)"
	case ResultAbstractSyntaxNotSupported:
		return "abstract-syntax-not-supported"
	case ResultTransferSyntaxesNotSupported:
		return "transfer-syntaxes-not-supported"
	default:
		return "unknown"
	}
}

// PresentationContext is one proposed or negotiated presentation context.
// TransferSyntaxes holds the proposal; Result and TransferSyntax the answer.
type PresentationContext struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
	Result           byte
	TransferSyntax   string
}

// Accepted reports whether the acceptor accepted the context.
func (pc *PresentationContext) Accepted() bool {
	return pc.Result == ResultAcceptance && pc.TransferSyntax != ""
}

// AsyncOperationsWindow is the Asynchronous Operations Window sub-item
// (PS3.7 Annex D.3.3.3). Zero means unlimited.
type AsyncOperationsWindow struct {
	MaxOperationsInvoked   uint16
	MaxOperationsPerformed uint16
}

// User identity types (PS3.7 Annex D.3.3.7)
const (
	UserIdentityUsername         byte = 0x01
	UserIdentityUsernamePasscode byte = 0x02
	UserIdentityKerberos         byte = 0x03
	UserIdentitySAML             byte = 0x04
	UserIdentityJWT              byte = 0x05
)

// UserIdentityTypeName describes a user identity type.
func UserIdentityTypeName(identityType byte) string {
	switch identityType {
	case UserIdentityUsername:
		return "Username"
	case UserIdentityUsernamePasscode:
		return "Username and Passcode"
	case UserIdentityKerberos:
		return "Kerberos Service Ticket"
	case UserIdentitySAML:
		return "SAML Assertion"
	case UserIdentityJWT:
		return "JSON Web Token"
	default:
		return "Unknown"
	}
}

// UserIdentity is the User Identity Negotiation sub-item of an
// A-ASSOCIATE-RQ. SecondaryField is only sent for username and passcode.
type UserIdentity struct {
	Type                      byte
	PositiveResponseRequested bool
	PrimaryField              []byte
	SecondaryField            []byte
}

// UserIdentityResponse is the acceptor's answer to a user identity
// requesting a positive response. ServerResponse is empty for username
// identities.
type UserIdentityResponse struct {
	ServerResponse []byte
}

// UserInformation carries the negotiated user information sub-items.
type UserInformation struct {
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string
	AsyncOperations           *AsyncOperationsWindow
	UserIdentity              *UserIdentity
	UserIdentityResponse      *UserIdentityResponse
}

// Associate is the content of an A-ASSOCIATE-RQ or A-ASSOCIATE-AC.
type Associate struct {
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []PresentationContext
	UserInfo             UserInformation
}

// EncodeAssociateRQ builds the body of an A-ASSOCIATE-RQ PDU.
func EncodeAssociateRQ(a *Associate) ([]byte, error) {
	if err := validateAETitle("called", a.CalledAETitle); err != nil {
		return nil, err
	}
	if err := validateAETitle("calling", a.CallingAETitle); err != nil {
		return nil, err
	}
	if len(a.PresentationContexts) == 0 {
		return nil, fmt.Errorf("no presentation contexts proposed")
	}
	if len(a.PresentationContexts) > MaxPresentationContexts {
		return nil, fmt.Errorf("%d presentation contexts proposed, limit is %d",
			len(a.PresentationContexts), MaxPresentationContexts)
	}

	buf := appendFixedFields(make([]byte, 0, 1024), a)

	for _, pc := range a.PresentationContexts {
		if pc.ID%2 == 0 {
			return nil, fmt.Errorf("presentation context ID %d is not odd", pc.ID)
		}
		if pc.AbstractSyntax == "" || len(pc.TransferSyntaxes) == 0 {
			return nil, fmt.Errorf("presentation context %d needs an abstract syntax and at least one transfer syntax", pc.ID)
		}

		value := []byte{pc.ID, 0x00, 0x00, 0x00}
		value = appendItem(value, itemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			value = appendItem(value, itemTransferSyntax, []byte(ts))
		}
		buf = appendItem(buf, itemPresentationContext, value)
	}

	return appendUserInformation(buf, a.UserInfo), nil
}

// EncodeAssociateAC builds the body of an A-ASSOCIATE-AC PDU. Rejected
// contexts are sent without a transfer syntax sub-item.
func EncodeAssociateAC(a *Associate) ([]byte, error) {
	buf := appendFixedFields(make([]byte, 0, 512), a)

	for _, pc := range a.PresentationContexts {
		value := []byte{pc.ID, 0x00, pc.Result, 0x00}
		if pc.Result == ResultAcceptance {
			if pc.TransferSyntax == "" {
				return nil, fmt.Errorf("accepted presentation context %d has no transfer syntax", pc.ID)
			}
			value = appendItem(value, itemTransferSyntax, []byte(pc.TransferSyntax))
		}
		buf = appendItem(buf, itemPresentationResult, value)
	}

	return appendUserInformation(buf, a.UserInfo), nil
}

// DecodeAssociateRQ parses the body of an A-ASSOCIATE-RQ PDU.
func DecodeAssociateRQ(data []byte) (*Associate, error) {
	return decodeAssociate(TypeAssociateRQ, data)
}

// DecodeAssociateAC parses the body of an A-ASSOCIATE-AC PDU.
func DecodeAssociateAC(data []byte) (*Associate, error) {
	return decodeAssociate(TypeAssociateAC, data)
}

// EncodeAssociateRJ builds the body of an A-ASSOCIATE-RJ PDU.
func EncodeAssociateRJ(result byte, source dicomerrors.AssociationRejectSource, reason dicomerrors.AssociationRejectReason) []byte {
	return []byte{0x00, result, byte(source), byte(reason)}
}

// DecodeAssociateRJ parses the body of an A-ASSOCIATE-RJ PDU.
func DecodeAssociateRJ(data []byte) *dicomerrors.AssociationError {
	if len(data) < 4 {
		return dicomerrors.NewAssociationError(dicomerrors.RejectSourceUnknown,
			dicomerrors.RejectReasonUnknown, "malformed A-ASSOCIATE-RJ")
	}
	err := dicomerrors.NewAssociationError(
		dicomerrors.AssociationRejectSource(data[2]),
		dicomerrors.AssociationRejectReason(data[3]),
		"rejected by peer")
	err.Result = data[1]
	return err
}

func validateAETitle(role, ae string) error {
	if ae == "" || len(ae) > 16 {
		return fmt.Errorf("%s AE title %q must be 1-16 characters", role, ae)
	}
	return nil
}

func appendFixedFields(buf []byte, a *Associate) []byte {
	buf = append(buf, 0x00, 0x01) // protocol version
	buf = append(buf, 0x00, 0x00)
	buf = append(buf, padAETitle(a.CalledAETitle)...)
	buf = append(buf, padAETitle(a.CallingAETitle)...)
	buf = append(buf, make([]byte, 32)...)

	appContext := a.ApplicationContext
	if appContext == "" {
		appContext = types.ApplicationContextUID
	}
	return appendItem(buf, itemApplicationContext, []byte(appContext))
}

func appendUserInformation(buf []byte, ui UserInformation) []byte {
	maxLength := ui.MaxPDULength
	var value []byte
	value = appendItem(value, subItemMaxLength, binary.BigEndian.AppendUint32(nil, maxLength))
	if ui.ImplementationClassUID != "" {
		value = appendItem(value, subItemImplClassUID, []byte(ui.ImplementationClassUID))
	}
	if w := ui.AsyncOperations; w != nil {
		window := binary.BigEndian.AppendUint16(nil, w.MaxOperationsInvoked)
		window = binary.BigEndian.AppendUint16(window, w.MaxOperationsPerformed)
		value = appendItem(value, subItemAsyncOpsWindow, window)
	}
	if ui.ImplementationVersionName != "" {
		value = appendItem(value, subItemImplVersionName, []byte(ui.ImplementationVersionName))
	}
	if id := ui.UserIdentity; id != nil {
		value = appendItem(value, subItemUserIdentityRQ, encodeUserIdentity(id))
	}
	if rsp := ui.UserIdentityResponse; rsp != nil {
		field := binary.BigEndian.AppendUint16(nil, uint16(len(rsp.ServerResponse)))
		value = appendItem(value, subItemUserIdentityAC, append(field, rsp.ServerResponse...))
	}
	return appendItem(buf, itemUserInformation, value)
}

func encodeUserIdentity(id *UserIdentity) []byte {
	value := []byte{id.Type, 0x00}
	if id.PositiveResponseRequested {
		value[1] = 0x01
	}
	value = binary.BigEndian.AppendUint16(value, uint16(len(id.PrimaryField)))
	value = append(value, id.PrimaryField...)

	var secondary []byte
	if id.Type == UserIdentityUsernamePasscode {
		secondary = id.SecondaryField
	}
	value = binary.BigEndian.AppendUint16(value, uint16(len(secondary)))
	return append(value, secondary...)
}

func decodeUserIdentity(data []byte) (*UserIdentity, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("user identity sub-item too short: %d", len(data))
	}
	id := &UserIdentity{
		Type:                      data[0],
		PositiveResponseRequested: data[1] == 0x01,
	}

	primaryEnd := 4 + int(binary.BigEndian.Uint16(data[2:4]))
	if primaryEnd+2 > len(data) {
		return nil, fmt.Errorf("user identity primary field exceeds sub-item")
	}
	id.PrimaryField = data[4:primaryEnd]

	secondaryEnd := primaryEnd + 2 + int(binary.BigEndian.Uint16(data[primaryEnd:primaryEnd+2]))
	if secondaryEnd > len(data) {
		return nil, fmt.Errorf("user identity secondary field exceeds sub-item")
	}
	if secondaryEnd > primaryEnd+2 {
		id.SecondaryField = data[primaryEnd+2 : secondaryEnd]
	}
	return id, nil
}

func decodeUserIdentityResponse(data []byte) (*UserIdentityResponse, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("user identity response too short: %d", len(data))
	}
	end := 2 + int(binary.BigEndian.Uint16(data[0:2]))
	if end > len(data) {
		return nil, fmt.Errorf("user identity server response exceeds sub-item")
	}
	return &UserIdentityResponse{ServerResponse: data[2:end]}, nil
}

func decodeAssociate(pduType byte, data []byte) (*Associate, error) {
	if len(data) < fixedFieldsLength {
		return nil, dicomerrors.NewPDUError(pduType, "association PDU too short")
	}

	a := &Associate{
		CalledAETitle:  normalizeAETitle(data[4:20]),
		CallingAETitle: normalizeAETitle(data[20:36]),
	}

	items, err := splitItems(data[fixedFieldsLength:])
	if err != nil {
		return nil, dicomerrors.NewPDUError(pduType, err.Error())
	}

	for _, it := range items {
		switch it.Type {
		case itemApplicationContext:
			a.ApplicationContext = normalizeUID(it.Value)
		case itemPresentationContext, itemPresentationResult:
			pc, err := decodePresentationContext(it)
			if err != nil {
				return nil, dicomerrors.NewPDUError(pduType, err.Error())
			}
			a.PresentationContexts = append(a.PresentationContexts, pc)
		case itemUserInformation:
			ui, err := decodeUserInformation(it.Value)
			if err != nil {
				return nil, dicomerrors.NewPDUError(pduType, err.Error())
			}
			a.UserInfo = ui
		}
	}

	return a, nil
}

func decodePresentationContext(it item) (PresentationContext, error) {
	if len(it.Value) < 4 {
		return PresentationContext{}, fmt.Errorf("presentation context too short: %d", len(it.Value))
	}

	pc := PresentationContext{ID: it.Value[0]}
	if it.Type == itemPresentationResult {
		pc.Result = it.Value[2]
	}

	subItems, err := splitItems(it.Value[4:])
	if err != nil {
		return PresentationContext{}, fmt.Errorf("presentation context %d: %w", pc.ID, err)
	}
	for _, sub := range subItems {
		switch sub.Type {
		case itemAbstractSyntax:
			pc.AbstractSyntax = normalizeUID(sub.Value)
		case itemTransferSyntax:
			ts := normalizeUID(sub.Value)
			if it.Type == itemPresentationResult {
				pc.TransferSyntax = ts
			} else {
				pc.TransferSyntaxes = append(pc.TransferSyntaxes, ts)
			}
		}
	}

	if it.Type == itemPresentationContext && pc.AbstractSyntax == "" {
		return PresentationContext{}, fmt.Errorf("presentation context %d missing abstract syntax", pc.ID)
	}
	return pc, nil
}

func decodeUserInformation(data []byte) (UserInformation, error) {
	var ui UserInformation

	subItems, err := splitItems(data)
	if err != nil {
		return ui, fmt.Errorf("user information: %w", err)
	}
	for _, sub := range subItems {
		switch sub.Type {
		case subItemMaxLength:
			if len(sub.Value) == 4 {
				ui.MaxPDULength = binary.BigEndian.Uint32(sub.Value)
			}
		case subItemImplClassUID:
			ui.ImplementationClassUID = normalizeUID(sub.Value)
		case subItemImplVersionName:
			ui.ImplementationVersionName = normalizeAETitle(sub.Value)
		case subItemAsyncOpsWindow:
			if len(sub.Value) == 4 {
				ui.AsyncOperations = &AsyncOperationsWindow{
					MaxOperationsInvoked:   binary.BigEndian.Uint16(sub.Value[0:2]),
					MaxOperationsPerformed: binary.BigEndian.Uint16(sub.Value[2:4]),
				}
			}
		case subItemUserIdentityRQ:
			if ui.UserIdentity, err = decodeUserIdentity(sub.Value); err != nil {
				return ui, err
			}
		case subItemUserIdentityAC:
			if ui.UserIdentityResponse, err = decodeUserIdentityResponse(sub.Value); err != nil {
				return ui, err
			}
		}
	}
	return ui, nil
}
