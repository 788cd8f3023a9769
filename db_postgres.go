package main

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	if err := p.db.Ping(); err != nil {
		return err
	}
	return nil
}

// pgDuplicate maps a unique-violation to the colliding field via the
// constraint name set by the migrations.
func pgDuplicate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case "users_username_key":
		return &DuplicateError{Field: "username"}
	case "users_email_key":
		return &DuplicateError{Field: "email"}
	case "roles_name_key":
		return &DuplicateError{Field: "role"}
	}
	return err
}

func (p *PostgresDB) CreateUser(username, email, encryptedPassword string) (*User, error) {
	var id int64
	err := p.db.QueryRow(`INSERT INTO users(username,email,password,created_at) VALUES($1,$2,$3,now()) RETURNING id`,
		username, email, encryptedPassword).Scan(&id)
	if err != nil {
		return nil, pgDuplicate(err)
	}
	return &User{ID: id, Username: username, Email: email, Password: encryptedPassword}, nil
}

func (p *PostgresDB) GetUserByUsername(username string) (*User, error) {
	row := p.db.QueryRow(`SELECT id,username,email,password,created_at FROM users WHERE username = $1`, username)
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresDB) ListUsers() ([]*User, error) {
	rows, err := p.db.Query(`SELECT id,username,email,password,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (p *PostgresDB) GetUserRoles(userID int64) ([]*Role, error) {
	rows, err := p.db.Query(`SELECT r.id,r.name FROM roles r JOIN user_roles ur ON r.id = ur.role_id WHERE ur.user_id = $1 ORDER BY r.id`, userID)
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

func (p *PostgresDB) CreateRole(name RoleName) (*Role, error) {
	var id int64
	if err := p.db.QueryRow(`INSERT INTO roles(name) VALUES($1) RETURNING id`, string(name)).Scan(&id); err != nil {
		return nil, pgDuplicate(err)
	}
	return &Role{ID: id, Name: name}, nil
}

func (p *PostgresDB) GetRoleByName(name RoleName) (*Role, error) {
	row := p.db.QueryRow(`SELECT id,name FROM roles WHERE name = $1`, string(name))
	var r Role
	if err := row.Scan(&r.ID, &r.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (p *PostgresDB) ListRoles() ([]*Role, error) {
	rows, err := p.db.Query(`SELECT id,name FROM roles ORDER BY id`)
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

func (p *PostgresDB) AssignRole(userID, roleID int64) error {
	_, err := p.db.Exec(`INSERT INTO user_roles(user_id,role_id) VALUES($1,$2) ON CONFLICT (user_id,role_id) DO NOTHING`, userID, roleID)
	return err
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
