package models

// Role 会话角色
type Role string

const (
	RolePatient      Role = "Patient"
	RoleProfessional Role = "Professional"
	RoleUnknown      Role = "Unknown"
)

// PatientProfile 患者档案（会话上下文中携带的最小字段集）
type PatientProfile struct {
	ID             int    `json:"id"`
	ProfessionalID int    `json:"professionalId"`
	FullName       string `json:"fullName"`
}

// ProfessionalProfile 专业人员档案（后端 professional-profiles 端点返回）
type ProfessionalProfile struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// EmergencyContext 评估摇晃事件时的会话快照（瞬态，每次评估时读取）
type EmergencyContext struct {
	IsAuthenticated bool
	Role            Role
	PatientProfile  *PatientProfile
}

// IsPatient 当前会话是否为已认证的患者
func (c EmergencyContext) IsPatient() bool {
	return c.IsAuthenticated && c.Role == RolePatient
}
