package adminapi

import (
	"github.com/REFFIX-BR/acaiteria-sub001/internal/whatsapp"
)

// Setup registers every admin API route. Called once from main after the
// webserver is initialized.
func Setup(svc *whatsapp.Service) {
	registerWhatsappRoutes(&WhatsappHandler{svc: svc})
	registerTenantsRoutes()
	registerCampaignsRoutes()
}
