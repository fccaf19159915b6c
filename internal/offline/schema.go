package offline

// Schema is the DDL of an offline climatology file. The store only reads it;
// the tile builder and tests create files with it.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tiles (
		tile_id TEXT PRIMARY KEY,
		lat     REAL NOT NULL,
		lon     REAL NOT NULL,
		row     INTEGER NOT NULL,
		col     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tiles_lat_lon ON tiles (lat, lon)`,
	`CREATE TABLE IF NOT EXISTS climatology (
		tile_id           TEXT NOT NULL,
		month             INTEGER NOT NULL,
		day               INTEGER NOT NULL,
		temperature_c     REAL,
		temp_p25          REAL,
		temp_p75          REAL,
		temp_std          REAL,
		precipitation_mm  REAL,
		rain_probability  REAL,
		rain_typical_mm   REAL,
		wind_speed_ms     REAL,
		wind_dir_deg      REAL,
		wind_var_deg      REAL,
		temp_hist_p25     REAL,
		temp_hist_p75     REAL,
		temp_day_p25      REAL,
		temp_day_p75      REAL,
		temp_day_median   REAL,
		samples_daily     INTEGER,
		samples_rain      INTEGER,
		samples_wind      INTEGER,
		samples_day_means INTEGER,
		samples_day_hours INTEGER,
		PRIMARY KEY (tile_id, month, day)
	)`,
	`CREATE TABLE IF NOT EXISTS riding_hourly (
		tile_id     TEXT NOT NULL,
		month       INTEGER NOT NULL,
		day         INTEGER NOT NULL,
		hour        INTEGER NOT NULL,
		temp_median REAL,
		temp_p25    REAL,
		temp_p75    REAL,
		samples     INTEGER,
		PRIMARY KEY (tile_id, month, day, hour)
	)`,
	`CREATE TABLE IF NOT EXISTS build_state (
		tile_id    TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		updated_at TEXT,
		error      TEXT
	)`,
}

// Meta keys.
const (
	MetaProvider     = "provider"
	MetaProviderOnly = "provider_only"
	MetaTileKm       = "tile_km"
	MetaBBox         = "bbox"
	MetaYears        = "years"
)

// RequiredProvider is the only provider whose builds the store accepts.
const RequiredProvider = "open-meteo"
