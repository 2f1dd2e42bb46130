package core

import (
	"context"
	"errors"

	"crmcore/pkg/domain"
)

// DealWon is the outcome of CloseDealAsWon.
type DealWon struct {
	AccountID string `json:"accountId,omitempty"`
	ContactID string `json:"contactId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

const conversionDealWon = "deal_won"

// errAlreadyWon ends a repeated close; the existing ids are still reported.
var errAlreadyWon = errors.New("deal already won")

// CloseDealAsWon marks a deal won and makes sure it is attached to an account
// and a contact, creating them from the deal's originating lead or from the
// deal itself when missing. Closing a deal that is already won returns its
// existing account and contact.
func (s *Service) CloseDealAsWon(ctx context.Context, dealID string) DealWon {
	if !s.allowed(domain.EntityDeals, domain.PermEdit) {
		return DealWon{Error: s.conversionFailed(conversionDealWon, dealID, ErrForbidden)}
	}
	var res DealWon
	_, err := s.run(ctx, "close_deal_won", func(tx domain.Transaction) error {
		rec, deal, err := find[domain.Deal](tx, domain.EntityDeals, dealID)
		if err != nil {
			return err
		}
		if deal.Stage == domain.StageClosedWon {
			res.AccountID = firstNonEmpty(deal.CreatedAccountID, deal.AccountID)
			res.ContactID = firstNonEmpty(deal.CreatedContactID, deal.ContactID)
			return errAlreadyWon
		}
		src := wonSource(tx, rec, deal)
		owner := firstNonEmpty(deal.OwnerID, s.Actor().ID)
		var created []domain.AuditEntry

		accountID := deal.AccountID
		if _, ok := tx.Find(domain.EntityAccounts, accountID); accountID == "" || !ok {
			if !s.allowed(domain.EntityAccounts, domain.PermCreate) {
				return ErrForbidden
			}
			accountID = s.newID()
			if _, err := s.create(tx, domain.EntityAccounts, accountID, map[string]any{
				"name":            firstNonEmpty(src.company, src.name, deal.Title),
				"email":           src.email,
				"phone":           src.phone,
				domain.KeyOwnerID: owner,
				"dealId":          dealID,
			}); err != nil {
				return err
			}
			created = append(created, s.auditEntry(domain.EntityAccounts, accountID, domain.AuditCreated, nil, map[string]any{"fromDeal": dealID}))
		}

		contactID := deal.ContactID
		if _, ok := tx.Find(domain.EntityContacts, contactID); contactID == "" || !ok {
			if !s.allowed(domain.EntityContacts, domain.PermCreate) {
				return ErrForbidden
			}
			contactID = s.newID()
			if _, err := s.create(tx, domain.EntityContacts, contactID, map[string]any{
				"name":            firstNonEmpty(src.name, src.company, deal.Title),
				"email":           src.email,
				"phone":           src.phone,
				keyAccountID:      accountID,
				domain.KeyOwnerID: owner,
				"dealId":          dealID,
			}); err != nil {
				return err
			}
			created = append(created, s.auditEntry(domain.EntityContacts, contactID, domain.AuditCreated, nil, map[string]any{"fromDeal": dealID}))
		}

		if _, err := tx.Update(domain.EntityDeals, dealID, setFields(map[string]any{
			"stage":            domain.StageClosedWon,
			"probability":      s.wonProbability(tx.Snapshot().Settings(), deal.PipelineID),
			keyAccountID:       accountID,
			keyContactID:       contactID,
			"createdAccountId": accountID,
			"createdContactId": contactID,
			"closedAt":         timestamp(tx.Now()),
		})); err != nil {
			return err
		}
		entries := append([]domain.AuditEntry{
			s.auditEntry(domain.EntityDeals, dealID, domain.AuditClosedWon, domain.StageClosedWon, map[string]any{
				"from": deal.Stage, "accountId": accountID, "contactId": contactID,
			}),
		}, created...)
		for _, entry := range entries {
			if _, err := tx.AppendAudit(entry); err != nil {
				return err
			}
		}
		res.AccountID, res.ContactID = accountID, contactID
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyWon):
		res.Success = true
		return res
	case err != nil:
		return DealWon{Error: s.conversionFailed(conversionDealWon, dealID, err)}
	}
	s.conversionDone(conversionDealWon, dealID)
	res.Success = true
	return res
}

type partySource struct {
	name, company, email, phone string
}

// wonSource prefers the originating lead's contact data over the deal's own
// denormalized fields.
func wonSource(tx domain.Transaction, rec Record, deal domain.Deal) partySource {
	src := partySource{
		name:    rec.String("contactName"),
		company: rec.String("company"),
		email:   rec.String("email"),
		phone:   rec.String("phone"),
	}
	if deal.LeadID == "" {
		return src
	}
	_, lead, err := find[domain.Lead](tx, domain.EntityLeads, deal.LeadID)
	if err != nil {
		return src
	}
	return partySource{
		name:    firstNonEmpty(lead.DisplayName(), src.name),
		company: firstNonEmpty(lead.Company, src.company),
		email:   firstNonEmpty(lead.Email, src.email),
		phone:   firstNonEmpty(lead.Phone, src.phone),
	}
}

// wonProbability reads the Closed Won probability of the deal's pipeline,
// defaulting to 100.
func (s *Service) wonProbability(settings domain.Settings, pipelineID string) int {
	if stage, ok := s.pipelineStage(settings, pipelineID, domain.StageClosedWon); ok {
		return stage.Probability
	}
	return 100
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
