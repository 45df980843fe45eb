package storage

// Open 按驱动名创建 Store：memory / sqlite3 / postgres
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	if driver == "" || driver == "memory" {
		return New(NewMemoryBackend(0), opts...), nil
	}
	b, err := OpenSQL(driver, dsn, 0)
	if err != nil {
		return nil, err
	}
	return New(b, opts...), nil
}
