package models

import "time"

// RawEvent is a single observed security log entry, already parsed upstream.
type RawEvent struct {
	RecordID  string    `json:"record_id"`
	Channel   string    `json:"channel"`
	EventID   int       `json:"event_id"`
	Actor     string    `json:"actor,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	Timestamp time.Time `json:"@timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Category is the semantic class of an event, derived from its channel and id.
type Category string

const (
	CategoryAuthFailure     Category = "AuthenticationFailure"
	CategoryAuthSuccess     Category = "AuthenticationSuccess"
	CategoryPrivEsc         Category = "PrivilegeEscalation"
	CategoryProcessCreate   Category = "ProcessCreation"
	CategoryNetworkConnect  Category = "NetworkConnection"
	CategoryDataAccess      Category = "DataAccess"
	CategoryDataExfil       Category = "DataExfiltration"
	CategoryServiceModify   Category = "ServiceModification"
	CategoryRegistryModify  Category = "RegistryModification"
	CategoryAccountManage   Category = "AccountManagement"
	CategoryUnknown         Category = "Unknown"

	sysmonChannel = "Microsoft-Windows-Sysmon/Operational"
)

// Categorize maps a raw event onto its semantic category using the Windows
// Security and Sysmon event id taxonomy.
func Categorize(e *RawEvent) Category {
	if e == nil {
		return CategoryUnknown
	}
	if e.Channel == sysmonChannel {
		switch e.EventID {
		case 1:
			return CategoryProcessCreate
		case 3:
			return CategoryNetworkConnect
		case 13:
			return CategoryRegistryModify
		}
		return CategoryUnknown
	}
	switch e.EventID {
	case 4625:
		return CategoryAuthFailure
	case 4624, 4648:
		return CategoryAuthSuccess
	case 4672, 4673, 4674:
		return CategoryPrivEsc
	case 4688:
		return CategoryProcessCreate
	case 5156:
		return CategoryNetworkConnect
	case 4663, 5140:
		return CategoryDataAccess
	case 5145:
		return CategoryDataExfil
	case 7045, 7040:
		return CategoryServiceModify
	case 4657:
		return CategoryRegistryModify
	case 4720, 4722, 4724, 4738:
		return CategoryAccountManage
	}
	return CategoryUnknown
}

// Technique returns the MITRE ATT&CK technique id commonly associated with a
// category, or empty when no single technique applies.
func (c Category) Technique() string {
	switch c {
	case CategoryAuthFailure:
		return "T1110"
	case CategoryAuthSuccess:
		return "T1078"
	case CategoryPrivEsc:
		return "T1068"
	case CategoryProcessCreate:
		return "T1059"
	case CategoryNetworkConnect:
		return "T1021"
	case CategoryDataAccess:
		return "T1005"
	case CategoryDataExfil:
		return "T1041"
	case CategoryServiceModify:
		return "T1543"
	case CategoryRegistryModify:
		return "T1112"
	case CategoryAccountManage:
		return "T1098"
	}
	return ""
}
