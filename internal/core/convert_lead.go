package core

import (
	"context"
	"errors"

	"crmcore/pkg/domain"
)

// LeadConversion is the outcome of ConvertLead.
type LeadConversion struct {
	AccountID string `json:"accountId,omitempty"`
	ContactID string `json:"contactId,omitempty"`
	DealID    string `json:"dealId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// DealConversion is the outcome of ConvertLeadToDeal.
type DealConversion struct {
	DealID  string `json:"dealId,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

const (
	conversionLead       = "lead"
	conversionLeadToDeal = "lead_to_deal"
	keyLeadID            = "leadId"
	keyContactID         = "contactId"
)

// ConvertLead turns a lead into an account, a contact linked to it and a
// deal linked to both, then moves the lead's related records to the contact.
// Converting a lead twice is rejected and reports the ids of the first
// conversion.
func (s *Service) ConvertLead(ctx context.Context, leadID string) LeadConversion {
	if !s.allowed(domain.EntityLeads, domain.PermEdit) || !s.allowed(domain.EntityDeals, domain.PermCreate) {
		return LeadConversion{Error: s.conversionFailed(conversionLead, leadID, ErrForbidden)}
	}
	var res LeadConversion
	_, err := s.run(ctx, "convert_lead", func(tx domain.Transaction) error {
		_, lead, err := find[domain.Lead](tx, domain.EntityLeads, leadID)
		if err != nil {
			return err
		}
		if lead.Status == domain.LeadStatusConverted {
			res.AccountID = lead.ConvertedAccountID
			res.ContactID = lead.ConvertedContactID
			res.DealID = lead.ConvertedToDealID
			return errAlreadyConverted
		}
		accountID, contactID, dealID := s.newID(), s.newID(), s.newID()
		now := timestamp(tx.Now())
		owner := lead.OwnerID
		if owner == "" {
			owner = s.Actor().ID
		}

		if _, err := tx.Update(domain.EntityLeads, leadID, setFields(map[string]any{
			keyStatus:            domain.LeadStatusConverted,
			"convertedAt":        now,
			"convertedAccountId": accountID,
			"convertedContactId": contactID,
			"convertedToDealId":  dealID,
		})); err != nil {
			return err
		}

		accountName := lead.Company
		if accountName == "" {
			accountName = lead.DisplayName()
		}
		if _, err := s.create(tx, domain.EntityAccounts, accountID, map[string]any{
			"name":            accountName,
			"email":           lead.Email,
			"phone":           lead.Phone,
			"address":         lead.Address,
			domain.KeyOwnerID: owner,
			keyLeadID:         leadID,
		}); err != nil {
			return err
		}
		if _, err := s.create(tx, domain.EntityContacts, contactID, map[string]any{
			"name":            lead.DisplayName(),
			"firstName":       lead.FirstName,
			"lastName":        lead.LastName,
			"email":           lead.Email,
			"phone":           lead.Phone,
			keyAccountID:      accountID,
			domain.KeyOwnerID: owner,
			keyLeadID:         leadID,
		}); err != nil {
			return err
		}
		pipeline, stage := s.salesStage(tx.Snapshot().Settings())
		if _, err := s.create(tx, domain.EntityDeals, dealID, map[string]any{
			"title":           dealTitle(lead),
			"amount":          amount(lead.EstimatedValue),
			"stage":           stage.Name,
			"probability":     stage.Probability,
			"pipelineId":      pipeline.ID,
			keyAccountID:      accountID,
			keyContactID:      contactID,
			keyLeadID:         leadID,
			domain.KeyOwnerID: owner,
		}); err != nil {
			return err
		}

		if _, err := migrateRelations(tx, domain.EntityLeads, leadID, domain.EntityContacts, contactID); err != nil {
			return err
		}
		for _, ticket := range tx.List(domain.EntityTickets) {
			if ticket.String(keyLeadID) != leadID {
				continue
			}
			if _, err := tx.Update(domain.EntityTickets, ticket.ID, setFields(map[string]any{keyContactID: contactID})); err != nil {
				return err
			}
		}

		entries := []domain.AuditEntry{
			s.auditEntry(domain.EntityLeads, leadID, domain.AuditConverted, domain.LeadStatusConverted, map[string]any{
				"accountId": accountID, "contactId": contactID, "dealId": dealID,
			}),
			s.auditEntry(domain.EntityAccounts, accountID, domain.AuditCreated, nil, map[string]any{"fromLead": leadID}),
			s.auditEntry(domain.EntityContacts, contactID, domain.AuditCreated, nil, map[string]any{"fromLead": leadID}),
			s.auditEntry(domain.EntityDeals, dealID, domain.AuditCreated, nil, map[string]any{"fromLead": leadID}),
		}
		for _, entry := range entries {
			if _, err := tx.AppendAudit(entry); err != nil {
				return err
			}
		}
		res = LeadConversion{AccountID: accountID, ContactID: contactID, DealID: dealID}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyConverted) {
			res.Error = s.conversionFailed(conversionLead, leadID, errors.New("lead already converted"))
			return res
		}
		return LeadConversion{Error: s.conversionFailed(conversionLead, leadID, err)}
	}
	s.conversionDone(conversionLead, leadID)
	res.Success = true
	return res
}

// ConvertLeadToDeal creates a deal from a lead without an account or contact;
// those are created when the deal is won.
func (s *Service) ConvertLeadToDeal(ctx context.Context, leadID string) DealConversion {
	if !s.allowed(domain.EntityLeads, domain.PermEdit) || !s.allowed(domain.EntityDeals, domain.PermCreate) {
		return DealConversion{Error: s.conversionFailed(conversionLeadToDeal, leadID, ErrForbidden)}
	}
	var res DealConversion
	_, err := s.run(ctx, "convert_lead_to_deal", func(tx domain.Transaction) error {
		_, lead, err := find[domain.Lead](tx, domain.EntityLeads, leadID)
		if err != nil {
			return err
		}
		if lead.Status == domain.LeadStatusConverted || lead.ConvertedToDealID != "" {
			res.DealID = lead.ConvertedToDealID
			return errAlreadyConverted
		}
		dealID := s.newID()
		owner := lead.OwnerID
		if owner == "" {
			owner = s.Actor().ID
		}
		if _, err := tx.Update(domain.EntityLeads, leadID, setFields(map[string]any{
			keyStatus:           domain.LeadStatusConverted,
			"convertedAt":       timestamp(tx.Now()),
			"convertedToDealId": dealID,
		})); err != nil {
			return err
		}
		pipeline, stage := s.salesStage(tx.Snapshot().Settings())
		if _, err := s.create(tx, domain.EntityDeals, dealID, map[string]any{
			"title":           dealTitle(lead),
			"amount":          amount(lead.EstimatedValue),
			"stage":           stage.Name,
			"probability":     stage.Probability,
			"pipelineId":      pipeline.ID,
			"contactName":     lead.DisplayName(),
			"company":         lead.Company,
			keyLeadID:         leadID,
			domain.KeyOwnerID: owner,
		}); err != nil {
			return err
		}
		if _, err := tx.AppendAudit(s.auditEntry(domain.EntityLeads, leadID, domain.AuditConverted,
			domain.LeadStatusConverted, map[string]any{"dealId": dealID})); err != nil {
			return err
		}
		if _, err := tx.AppendAudit(s.auditEntry(domain.EntityDeals, dealID, domain.AuditCreated,
			nil, map[string]any{"fromLead": leadID})); err != nil {
			return err
		}
		res.DealID = dealID
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyConverted) {
			res.Error = s.conversionFailed(conversionLeadToDeal, leadID, errors.New("lead already converted"))
			return res
		}
		return DealConversion{Error: s.conversionFailed(conversionLeadToDeal, leadID, err)}
	}
	s.conversionDone(conversionLeadToDeal, leadID)
	res.Success = true
	return res
}

func dealTitle(lead domain.Lead) string {
	name := lead.Company
	if name == "" {
		name = lead.DisplayName()
	}
	if name == "" {
		return "New Deal"
	}
	return name + " Deal"
}
