package services

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/ruralpay/ledgercore/internal/models"
)

// ISO20022Service renders transfer pairs as settlement messages.
type ISO20022Service struct {
	ledger *LedgerService
	store  *AccountStore
	bic    string
	now    func() time.Time
}

func NewISO20022Service(ledger *LedgerService, store *AccountStore, bic string) *ISO20022Service {
	if bic == "" {
		bic = "RURALPAY"
	}
	return &ISO20022Service{ledger: ledger, store: store, bic: bic, now: time.Now}
}

// TransferPair is the debit and credit leg of one transfer.
type TransferPair struct {
	Reference string
	Debit     models.LedgerEntry
	Credit    models.LedgerEntry
}

// LoadPair finds the transfer legs sharing reference that the caller may see.
func (iso *ISO20022Service) LoadPair(id models.Identity, reference string) (TransferPair, error) {
	pair := TransferPair{Reference: reference}
	for _, e := range iso.ledger.EntriesByReference(reference) {
		if e.Type != models.EntryTransfer || e.CounterpartID == "" {
			continue
		}
		if e.Amount < 0 {
			pair.Debit = e
		} else {
			pair.Credit = e
		}
	}
	if pair.Debit.ID == "" || pair.Credit.ID == "" {
		return TransferPair{}, fmt.Errorf("transfer %s: %w", reference, ErrRecordNotFound)
	}
	if !id.CanAccess(pair.Debit.ClientID) && !id.CanAccess(pair.Credit.ClientID) {
		return TransferPair{}, ErrForbidden
	}
	return pair, nil
}

// partyName is the account name followed by its masked number.
func (iso *ISO20022Service) partyName(accountID string) string {
	if acct, err := iso.store.Get(accountID); err == nil {
		return fmt.Sprintf("%s %s", acct.Name, acct.MaskedNumber())
	}
	return accountID
}

func (iso *ISO20022Service) currency(accountID string) string {
	if acct, err := iso.store.Get(accountID); err == nil && acct.Currency != "" {
		return acct.Currency
	}
	return "USD"
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for a
// completed transfer pair.
func (iso *ISO20022Service) CreatePacs008(pair TransferPair) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if pair.Debit.Status != models.EntryCompleted || pair.Credit.Status != models.EntryCompleted {
		return nil, fmt.Errorf("transfer %s is %s: %w", pair.Reference, pair.Debit.Status, ErrInvalidState)
	}

	msgId := uuid.New().String()
	creDtTm := iso.now()
	settlementDate := pair.Debit.EffectiveAt()
	ccy := common.ActiveCurrencyCode(iso.currency(pair.Debit.AccountID))
	amount := models.MajorUnits(pair.Credit.Amount).InexactFloat64()
	bic := common.BICFIDec2014Identifier(iso.bic)

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   ccy,
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "INDA", // settled on the books of this institution
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(pair.Debit.ID)}[0],
					EndToEndId: common.Max35Text(pair.Reference),
					TxId:       &[]common.Max35Text{common.Max35Text(pair.Credit.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   ccy,
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{BICFI: &bic},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(iso.partyName(pair.Debit.AccountID))}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{BICFI: &bic},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(iso.partyName(pair.Credit.AccountID))}[0],
				},
			},
		},
	}

	return doc, nil
}

// StatusCode maps a transfer pair to an ISO 20022 transaction status.
func StatusCode(pair TransferPair) string {
	switch pair.Debit.Status {
	case models.EntryCompleted:
		return "ACSC"
	case models.EntryFailed, models.EntryCancelled:
		return "RJCT"
	}
	return "PDNG"
}

// CreatePacs002 creates a pacs.002 payment status report
func (iso *ISO20022Service) CreatePacs002(pair TransferPair) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := iso.now()
	status := StatusCode(pair)

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(pair.Debit.ID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(pair.Reference)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(pair.Credit.ID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts ISO20022 document to XML string
func (iso *ISO20022Service) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
