package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	// Shop
	&Tenant{},
	&Campaign{},
	// Whatsapp
	&WhatsappInstance{},
}
