package main

import (
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the persistence boundary for accounts and authorities. Lookups
// return (nil, nil) when no row matches; uniqueness violations surface as
// *DuplicateError.
type Store interface {
	Init() error
	// Account operations
	CreateUser(username, email, encryptedPassword string) (*User, error)
	GetUserByUsername(username string) (*User, error)
	ListUsers() ([]*User, error)
	// Authority operations
	GetUserRoles(userID int64) ([]*Role, error)
	CreateRole(name RoleName) (*Role, error)
	GetRoleByName(name RoleName) (*Role, error)
	ListRoles() ([]*Role, error)
	// AssignRole inserts into the user↔role join table. Implementations
	// upsert on the composite key, so a concurrent duplicate assignment is
	// a no-op rather than an error.
	AssignRole(userID, roleID int64) error
}

// Memory store
type MemDB struct {
	mu        sync.Mutex
	users     map[string]*User
	roles     map[RoleName]*Role
	userRoles map[UserRole]struct{}
	userSeq   int64
	roleSeq   int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:     map[string]*User{},
		roles:     map[RoleName]*Role{},
		userRoles: map[UserRole]struct{}{},
		userSeq:   1,
		roleSeq:   1,
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(username, email, encryptedPassword string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return nil, &DuplicateError{Field: "username"}
	}
	for _, u := range m.users {
		if u.Email == email {
			return nil, &DuplicateError{Field: "email"}
		}
	}
	u := &User{ID: m.userSeq, Username: username, Email: email, Password: encryptedPassword, CreatedAt: time.Now()}
	m.userSeq++
	m.users[username] = u
	cp := *u
	return &cp, nil
}

func (m *MemDB) GetUserByUsername(username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) ListUsers() ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemDB) GetUserRoles(userID int64) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var roles []*Role
	for link := range m.userRoles {
		if link.UserID != userID {
			continue
		}
		for _, r := range m.roles {
			if r.ID == link.RoleID {
				cp := *r
				roles = append(roles, &cp)
			}
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

func (m *MemDB) CreateRole(name RoleName) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[name]; ok {
		return nil, &DuplicateError{Field: "role"}
	}
	r := &Role{ID: m.roleSeq, Name: name}
	m.roleSeq++
	m.roles[name] = r
	cp := *r
	return &cp, nil
}

func (m *MemDB) GetRoleByName(name RoleName) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.roles[name]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) ListRoles() ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		cp := *r
		roles = append(roles, &cp)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

func (m *MemDB) AssignRole(userID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userRoles[UserRole{UserID: userID, RoleID: roleID}] = struct{}{}
	return nil
}

// SQLite store
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')));`,
		`CREATE TABLE IF NOT EXISTS roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE);`,
		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id INTEGER NOT NULL REFERENCES users(id),
			role_id INTEGER NOT NULL REFERENCES roles(id),
			PRIMARY KEY (user_id, role_id));`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// sqliteDuplicate maps a UNIQUE-constraint failure to the colliding field.
func sqliteDuplicate(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "users.username"):
		return &DuplicateError{Field: "username"}
	case strings.Contains(msg, "users.email"):
		return &DuplicateError{Field: "email"}
	case strings.Contains(msg, "roles.name"):
		return &DuplicateError{Field: "role"}
	}
	return err
}

func (s *SQLiteDB) CreateUser(username, email, encryptedPassword string) (*User, error) {
	res, err := s.db.Exec(`INSERT INTO users(username,email,password) VALUES(?,?,?)`, username, email, encryptedPassword)
	if err != nil {
		return nil, sqliteDuplicate(err)
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Username: username, Email: email, Password: encryptedPassword}, nil
}

func (s *SQLiteDB) GetUserByUsername(username string) (*User, error) {
	row := s.db.QueryRow(`SELECT id,username,email,password,created_at FROM users WHERE username = ?`, username)
	var u User
	var created string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if t, err := time.Parse("2006-01-02 15:04:05", created); err == nil {
		u.CreatedAt = t
	}
	return &u, nil
}

func (s *SQLiteDB) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(`SELECT id,username,email,password,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		var u User
		var created string
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &created); err != nil {
			return nil, err
		}
		if t, err := time.Parse("2006-01-02 15:04:05", created); err == nil {
			u.CreatedAt = t
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *SQLiteDB) GetUserRoles(userID int64) ([]*Role, error) {
	rows, err := s.db.Query(`SELECT r.id,r.name FROM roles r JOIN user_roles ur ON r.id = ur.role_id WHERE ur.user_id = ? ORDER BY r.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []*Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

func (s *SQLiteDB) CreateRole(name RoleName) (*Role, error) {
	res, err := s.db.Exec(`INSERT INTO roles(name) VALUES(?)`, string(name))
	if err != nil {
		return nil, sqliteDuplicate(err)
	}
	id, _ := res.LastInsertId()
	return &Role{ID: id, Name: name}, nil
}

func (s *SQLiteDB) GetRoleByName(name RoleName) (*Role, error) {
	row := s.db.QueryRow(`SELECT id,name FROM roles WHERE name = ?`, string(name))
	var r Role
	if err := row.Scan(&r.ID, &r.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteDB) ListRoles() ([]*Role, error) {
	rows, err := s.db.Query(`SELECT id,name FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []*Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

func (s *SQLiteDB) AssignRole(userID, roleID int64) error {
	_, err := s.db.Exec(`INSERT INTO user_roles(user_id,role_id) VALUES(?,?) ON CONFLICT(user_id,role_id) DO NOTHING`, userID, roleID)
	return err
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
