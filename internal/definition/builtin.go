package definition

import "github.com/pitabwire/triage/model"

// Builtins returns the hardcoded action catalog. Declarative definitions with
// the same ID replace these entries.
func Builtins() []model.ActionConfig {
	return []model.ActionConfig{
		{
			ActionID:            "pay_invoice",
			DisplayName:         "Pay Invoice",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "PayInvoiceModal",
			Icon:                "creditcard.fill",
			RequiredContextKeys: []string{"invoiceId", "amount", "merchant"},
			OptionalContextKeys: []string{"dueDate", "paymentLink", "description"},
			Priority:            model.PriorityCritical,
			Permission:          model.PermissionFree,
			ModalConfigID:       "pay_invoice",
		},
		{
			ActionID:            "track_package",
			DisplayName:         "Track Package",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "TrackPackageModal",
			Icon:                "shippingbox.fill",
			RequiredContextKeys: []string{"trackingNumber", "carrier"},
			OptionalContextKeys: []string{"url", "orderNumber", "estimatedDelivery", "status"},
			Priority:            model.PriorityVeryHigh,
			Permission:          model.PermissionFree,
			ModalConfigID:       "track_package",
		},
		{
			ActionID:            "check_in_flight",
			DisplayName:         "Check In",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "CheckInFlightModal",
			Icon:                "airplane",
			RequiredContextKeys: []string{"flightNumber", "airline"},
			OptionalContextKeys: []string{"departureTime", "confirmationCode", "checkInUrl", "gate"},
			Priority:            model.PriorityCritical,
			Permission:          model.PermissionFree,
			ModalConfigID:       "check_in_flight",
		},
		{
			ActionID:            "add_to_calendar",
			DisplayName:         "Add to Calendar",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeBoth,
			ModalComponent:      "AddToCalendarModal",
			Icon:                "calendar.badge.plus",
			RequiredContextKeys: []string{"eventDate"},
			OptionalContextKeys: []string{"eventTitle", "location", "notes", "eventEndDate"},
			Priority:            model.PriorityHigh,
			Permission:          model.PermissionFree,
			ModalConfigID:       "add_to_calendar",
		},
		{
			ActionID:            "add_reminder",
			DisplayName:         "Remind Me",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeBoth,
			ModalComponent:      "AddReminderModal",
			Icon:                "bell.badge",
			RequiredContextKeys: []string{"reminderTitle"},
			OptionalContextKeys: []string{"dueDate", "notes"},
			Priority:            model.PriorityMedium,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "save_contact",
			DisplayName:         "Save Contact",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "SaveContactModal",
			Icon:                "person.crop.circle.badge.plus",
			RequiredContextKeys: []string{"name"},
			OptionalContextKeys: []string{"email", "phone", "company"},
			Priority:            model.PriorityLow,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "rsvp_yes",
			DisplayName:         "RSVP Yes",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "RSVPModal",
			Icon:                "checkmark.circle",
			RequiredContextKeys: []string{"eventTitle"},
			OptionalContextKeys: []string{"eventDate", "location", "organizer"},
			Priority:            model.PriorityHigh,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "schedule_meeting",
			DisplayName:         "Schedule Meeting",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "ScheduleMeetingModal",
			Icon:                "calendar.badge.clock",
			RequiredContextKeys: []string{"subject"},
			OptionalContextKeys: []string{"proposedTimes", "recipient", "location"},
			Priority:            model.PriorityMedium,
			Permission:          model.PermissionPremium,
		},
		{
			ActionID:            "add_to_wallet",
			DisplayName:         "Add to Wallet",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeBoth,
			ModalComponent:      "AddToWalletModal",
			Icon:                "wallet.pass",
			RequiredContextKeys: []string{"passUrl"},
			OptionalContextKeys: []string{"passType", "title"},
			Priority:            model.PriorityHigh,
			Permission:          model.PermissionPremium,
		},
		{
			ActionID:            "reply",
			DisplayName:         "Quick Reply",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "QuickReplyModal",
			Icon:                "arrowshape.turn.up.left",
			RequiredContextKeys: []string{"recipient"},
			OptionalContextKeys: []string{"subject", "suggestedReply"},
			Priority:            model.PriorityMedium,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "view_order",
			DisplayName:         "View Order",
			ActionType:          model.ActionGoTo,
			Mode:                model.ModeMail,
			Icon:                "bag",
			RequiredContextKeys: []string{"orderUrl"},
			OptionalContextKeys: []string{"orderNumber", "merchant"},
			Priority:            model.PriorityMedium,
			Permission:          model.PermissionFree,
			URLContextKey:       "orderUrl",
		},
		{
			ActionID:            "unsubscribe",
			DisplayName:         "Unsubscribe",
			ActionType:          model.ActionGoTo,
			Mode:                model.ModeAds,
			Icon:                "envelope.badge.shield.half.filled",
			RequiredContextKeys: []string{"unsubscribeUrl"},
			OptionalContextKeys: []string{"sender"},
			Priority:            model.PriorityHigh,
			Permission:          model.PermissionFree,
			URLContextKey:       "unsubscribeUrl",
		},
		{
			ActionID:            "view_offer",
			DisplayName:         "View Offer",
			ActionType:          model.ActionGoTo,
			Mode:                model.ModeAds,
			Icon:                "tag",
			RequiredContextKeys: []string{"url"},
			OptionalContextKeys: []string{"merchant", "expiresAt"},
			Priority:            model.PriorityMedium,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "claim_deal",
			DisplayName:         "Claim Deal",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeAds,
			ModalComponent:      "ClaimDealModal",
			Icon:                "gift",
			RequiredContextKeys: []string{"promoCode"},
			OptionalContextKeys: []string{"merchant", "url", "expiresAt", "discount"},
			Priority:            model.PriorityVeryHigh,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "open_link",
			DisplayName:         "Open Link",
			ActionType:          model.ActionGoTo,
			Mode:                model.ModeBoth,
			Icon:                "safari",
			OptionalContextKeys: []string{"url", "link", "deepLink"},
			Priority:            model.PriorityLow,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "get_directions",
			DisplayName:         "Get Directions",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeBoth,
			ModalComponent:      "DirectionsModal",
			Icon:                "map",
			RequiredContextKeys: []string{"location"},
			OptionalContextKeys: []string{"title"},
			Priority:            model.PriorityMedium,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "call_sender",
			DisplayName:         "Call",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "CallModal",
			Icon:                "phone",
			RequiredContextKeys: []string{"phone"},
			OptionalContextKeys: []string{"name"},
			Priority:            model.PriorityLow,
			Permission:          model.PermissionFree,
		},
		{
			ActionID:            "smart_summary",
			DisplayName:         "Smart Summary",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeBoth,
			ModalComponent:      "SmartSummaryModal",
			Icon:                "sparkles",
			OptionalContextKeys: []string{"summary", "keyPoints"},
			Priority:            model.PriorityLow,
			Permission:          model.PermissionBeta,
		},
	}
}
