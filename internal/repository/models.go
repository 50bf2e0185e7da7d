package repository

import "time"

// Group is an instructor's class section with its two public links.
type Group struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"column:name;size:100;not null" json:"name"`
	Description      string    `gorm:"column:description;size:255" json:"description"`
	Department       string    `gorm:"column:department;size:100" json:"department"`
	ClassName        string    `gorm:"column:class_name;size:50" json:"class"`
	Section          string    `gorm:"column:section;size:50" json:"section"`
	InstructorID     string    `gorm:"column:instructor_id;size:64;index" json:"instructor_id"`
	RegistrationLink string    `gorm:"column:registration_link;size:64;uniqueIndex" json:"registration_link"`
	AttendanceLink   string    `gorm:"column:attendance_link;size:64;uniqueIndex" json:"attendance_link"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Group) TableName() string {
	return "instructor_groups"
}

// Student is a registered student profile. StudentID is only unique within a group.
type Student struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	StudentID        string    `gorm:"column:student_id;size:100;not null;uniqueIndex:idx_student_group,priority:1" json:"student_id"`
	GroupID          uint      `gorm:"column:group_id;not null;uniqueIndex:idx_student_group,priority:2" json:"group_id"`
	Name             string    `gorm:"column:name;size:150;not null" json:"name"`
	Email            string    `gorm:"column:email;size:150;not null" json:"email"`
	Department       string    `gorm:"column:department;size:100;not null" json:"department"`
	Phone            string    `gorm:"column:phone;size:50;not null" json:"phone"`
	FaceEncodingFile string    `gorm:"column:face_encoding_file;size:255;not null" json:"-"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Student) TableName() string {
	return "students"
}

// AttendanceStatusPresent is the only status the verification flow writes.
const AttendanceStatusPresent = "present"

// Attendance is an append-only presence event. StudentID references Student.ID.
type Attendance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StudentID uint      `gorm:"column:student_id;not null;index" json:"student_id"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"`
	Status    string    `gorm:"column:status;size:20;not null;default:present" json:"status"`
}

func (Attendance) TableName() string {
	return "attendances"
}
