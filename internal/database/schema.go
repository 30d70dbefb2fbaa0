package database

const schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id BIGINT PRIMARY KEY,
    username VARCHAR(255),
    is_owner TINYINT(1) NOT NULL DEFAULT 0,
    authorized TINYINT(1) NOT NULL DEFAULT 0,
    authorized_at TIMESTAMP NULL,
    added_by_user_id BIGINT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS usage_counters (
    user_id BIGINT PRIMARY KEY,
    last_generation_at DATETIME NULL,
    generation_count_total INT NOT NULL DEFAULT 0,
    pending_reservation_id CHAR(36) NULL,
    pending_expires_at DATETIME NULL,
    FOREIGN KEY (user_id) REFERENCES users(user_id)
);

CREATE TABLE IF NOT EXISTS generation_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    mode VARCHAR(16) NOT NULL,
    outcome VARCHAR(24) NOT NULL DEFAULT 'pending',
    prompt TEXT,
    error_detail TEXT,
    archive_url VARCHAR(512),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_logs_user_created (user_id, created_at)
);
`
